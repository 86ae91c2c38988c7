package virtops

import (
	"fmt"
	"time"
)

// Slot names one of the two records a store keeps per identity.
type Slot string

const (
	SlotCurrent Slot = "current"
	SlotDesired Slot = "desired"
)

// ParseSlot validates a slot name.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotCurrent, SlotDesired:
		return Slot(s), nil
	default:
		return "", fmt.Errorf("unknown slot %q", s)
	}
}

// Entry is everything a store holds about one identity.
type Entry struct {
	Identity  Identity
	Current   *Record
	Desired   *Record
	UpdatedAt time.Time
}

// Converged reports whether the entry needs no further work.
func (e Entry) Converged() bool {
	return MatchStates(e.Current, e.Desired)
}
