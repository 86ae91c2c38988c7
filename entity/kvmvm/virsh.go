package kvmvm

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var errNoState = errors.New("virsh domstate returned no state")

func (o *Operator) virsh(ctx context.Context, args ...string) ([]byte, error) {
	if o.opts.Connect != "" {
		args = append([]string{"-c", o.opts.Connect}, args...)
	}
	return o.opts.Runner.Run(ctx, o.opts.Virsh, args...)
}

// defined reports whether a domain named after the entity exists.
func (o *Operator) defined(ctx context.Context) (bool, error) {
	out, err := o.virsh(ctx, "list", "--name", "--all")
	if err != nil {
		return false, err
	}
	return slices.Contains(lines(out), o.name), nil
}

// state maps the virsh domain state to running or stopped. A domain that
// is shutting down already counts as stopped.
func (o *Operator) state(ctx context.Context) (string, error) {
	out, err := o.virsh(ctx, "domstate", o.name)
	if err != nil {
		return "", err
	}
	l := lines(out)
	if len(l) == 0 {
		return "", errNoState
	}
	switch l[0] {
	case "running", "idle", "blocked", "paused":
		return StateRunning, nil
	default:
		return StateStopped, nil
	}
}

func lines(out []byte) []string {
	var res []string
	for _, l := range strings.Split(string(out), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}
