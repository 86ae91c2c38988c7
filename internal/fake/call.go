// Package fake provides in-memory stand-ins for stores, operators and the
// system interfaces operators talk to. Every fake records its calls and can
// fail at named points through a fault.Injector.
package fake

import (
	"slices"
	"sync"
)

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder is embedded by every fake. It is safe for concurrent use.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns the calls of method in order, or every call for "".
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.calls)
	if method != "" {
		out = slices.DeleteFunc(out, func(c Call) bool { return c.Method != method })
	}
	return out
}

func (r *CallRecorder) Count(method string) int { return len(r.Calls(method)) }

// Methods lists the method of every call in order.
func (r *CallRecorder) Methods() []string {
	var out []string
	for _, c := range r.Calls("") {
		out = append(out, c.Method)
	}
	return out
}

func (r *CallRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
