package reconcile

import (
	"context"

	"virtops"
)

// Operator is implemented once per entity kind. The reconciler hands it
// copies of the records, so implementations may modify their arguments.
type Operator interface {
	// SyncCurrent re-observes the entity described by current. It returns nil
	// when the real world still agrees with current.
	SyncCurrent(ctx context.Context, current *virtops.Record) (*virtops.Record, error)
	// CreateEntity brings desired into existence and returns the new current
	// record. It must tolerate leftovers of an earlier failed attempt.
	CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error)
	DestroyEntity(ctx context.Context, current *virtops.Record) error
	// ChangeFunctions lists incremental changes in the order they are tried.
	ChangeFunctions() []ChangeFunc
}

// ChangeFunc is one incremental change. Apply returns nil when current needs
// no change of this kind.
type ChangeFunc struct {
	Name  string
	Apply func(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error)
}

// Validator is implemented by operators that can reject a desired record
// before any action is taken.
type Validator interface {
	Validate(desired *virtops.Record) error
}
