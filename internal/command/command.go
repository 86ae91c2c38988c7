// Package command runs the external tools entity operators shell out to.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner runs an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Exec runs commands as child processes.
type Exec struct {
	// Sudo runs every command through "sudo -n" unless the process is root.
	Sudo bool
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithSudo sets whether commands are escalated with sudo.
func WithSudo(sudo bool) Option {
	return func(e *Exec) { e.Sudo = sudo }
}

// NewExec creates a child-process runner.
func NewExec(opts ...Option) *Exec {
	e := &Exec{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	bin, argv := name, args
	if e.Sudo && os.Geteuid() != 0 {
		bin = "sudo"
		argv = append([]string{"-n", name}, args...)
	}

	cmd := exec.CommandContext(ctx, bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Run command.", "cmd", bin, "args", argv)
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &Error{Name: name, Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}

// Error reports a command that could not be started or exited non-zero.
type Error struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the exit status of a command that ran and failed, or -1.
func (e *Error) ExitCode() int {
	if ee, ok := e.Err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// Line renders a command line for logs and errors.
func Line(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
