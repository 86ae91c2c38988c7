// Package fault injects failures into the in-memory fakes at named points,
// such as "CreateEntity" or "SetCurrent".
package fault

import (
	"fmt"
	"sync"

	"virtops/internal/check"
)

// Hook inspects the arguments of a call and returns a non-nil error to fail it.
type Hook func(args ...any) error

type point struct {
	once   []error
	always error
	hook   Hook
	hits   int
}

// Injector holds the faults configured per point. A nil *Injector never
// fails, so fakes can leave it unset.
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailOnce fails the next evaluation of name with err. Repeated calls queue.
func (i *Injector) FailOnce(name string, err error) {
	check.Assert(err != nil, "fault.FailOnce: err must not be nil")
	i.mu.Lock()
	defer i.mu.Unlock()
	p := i.point(name)
	p.once = append(p.once, err)
}

// FailAlways fails every evaluation of name with err until cleared.
func (i *Injector) FailAlways(name string, err error) {
	check.Assert(err != nil, "fault.FailAlways: err must not be nil")
	i.mu.Lock()
	defer i.mu.Unlock()
	i.point(name).always = err
}

// SetHook installs an argument-aware hook for name.
func (i *Injector) SetHook(name string, hook Hook) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.point(name).hook = hook
}

// Clear removes every fault configured for name.
func (i *Injector) Clear(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.points, name)
}

// Hits returns how many times name was evaluated since it was configured.
func (i *Injector) Hits(name string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.points[name]; ok {
		return p.hits
	}
	return 0
}

// Eval returns the error the call at name should fail with, if any. Hooks
// are consulted first, then queued one-shot errors, then the persistent one.
func (i *Injector) Eval(name string, args ...any) error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	p, ok := i.points[name]
	if !ok {
		i.mu.Unlock()
		return nil
	}
	p.hits++
	hook := p.hook
	var once error
	if len(p.once) > 0 {
		once, p.once = p.once[0], p.once[1:]
	}
	always := p.always
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s: %w", name, err)
		}
	}
	if once != nil {
		return fmt.Errorf("fault %s: %w", name, once)
	}
	if always != nil {
		return fmt.Errorf("fault %s: %w", name, always)
	}
	return nil
}

func (i *Injector) point(name string) *point {
	if i.points == nil {
		i.points = make(map[string]*point)
	}
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	return p
}
