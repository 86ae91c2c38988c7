package reconcile

import "virtops"

// Action is what a single pass did.
type Action uint8

const (
	ActionNone Action = iota
	ActionSync
	ActionDestroy
	ActionCreate
	ActionChange
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSync:
		return "sync"
	case ActionDestroy:
		return "destroy"
	case ActionCreate:
		return "create"
	case ActionChange:
		return "change"
	default:
		return "unknown"
	}
}

// Outcome is the result of one pass.
type Outcome struct {
	Action Action
	// Change names the change function that ran, for ActionChange.
	Change string
	// Current is the record the entity is now in.
	Current *virtops.Record
	// Persist is set when Current differs from what the store holds and must
	// be written back, including after a partial failure.
	Persist bool
}

// Label is a short human form such as "create" or "change mtu".
func (o Outcome) Label() string {
	if o.Action == ActionChange && o.Change != "" {
		return o.Action.String() + " " + o.Change
	}
	return o.Action.String()
}
