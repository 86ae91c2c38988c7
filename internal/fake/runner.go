package fake

import (
	"context"
	"strings"
	"sync"

	"virtops/internal/command"
	"virtops/internal/fault"
)

// Handler answers a faked command. args excludes the command name.
type Handler func(args []string) ([]byte, error)

// Runner records command lines instead of running them. Commands without a
// matching handler succeed with empty output.
type Runner struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	handlers map[string]Handler
}

var _ command.Runner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// On registers h for command lines starting with prefix, e.g. "virsh
// domstate". The longest matching prefix wins.
func (r *Runner) On(prefix string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[prefix] = h
}

// Run records the command line and fails at the fault point named after the
// command, e.g. "qemu-img".
func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := command.Line(name, args...)
	r.record("Run", line)
	if err := r.Faults.Eval(name, args); err != nil {
		return nil, err
	}

	r.mu.Lock()
	var best string
	var h Handler
	for prefix, candidate := range r.handlers {
		if (line == prefix || strings.HasPrefix(line, prefix+" ")) && len(prefix) >= len(best) {
			best, h = prefix, candidate
		}
	}
	r.mu.Unlock()

	if h == nil {
		return nil, nil
	}
	return h(args)
}

// Lines returns every command line run so far.
func (r *Runner) Lines() []string {
	calls := r.Calls("Run")
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Args[0].(string)
	}
	return out
}

// Ran reports whether a command line starting with prefix was run.
func (r *Runner) Ran(prefix string) bool {
	for _, line := range r.Lines() {
		if line == prefix || strings.HasPrefix(line, prefix+" ") {
			return true
		}
	}
	return false
}
