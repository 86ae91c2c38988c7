package fake

import (
	"context"
	"sync"

	"virtops"
	"virtops/internal/fault"
	"virtops/reconcile"
)

// Operator is a reconcile.Operator over a single simulated real-world
// entity. Create and change functions update the simulated entity, destroy
// removes it, and the default sync reports Deleted once it has vanished.
type Operator struct {
	CallRecorder
	Faults *fault.Injector

	// Changes is returned by ChangeFunctions.
	Changes []reconcile.ChangeFunc
	// Sync replaces the default drift check when set.
	Sync func(current *virtops.Record) (*virtops.Record, error)
	// Check is run by Validate when set.
	Check func(desired *virtops.Record) error

	mu    sync.Mutex
	world *virtops.Record
}

var (
	_ reconcile.Operator  = (*Operator)(nil)
	_ reconcile.Validator = (*Operator)(nil)
)

func NewOperator() *Operator { return &Operator{} }

// World returns a copy of the simulated entity, nil when it does not exist.
func (o *Operator) World() *virtops.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.world.Clone()
}

// SetWorld replaces the simulated entity, e.g. to simulate drift.
func (o *Operator) SetWorld(r *virtops.Record) {
	o.mu.Lock()
	o.world = r.Clone()
	o.mu.Unlock()
}

func (o *Operator) SyncCurrent(_ context.Context, current *virtops.Record) (*virtops.Record, error) {
	o.record("SyncCurrent", current)
	if err := o.Faults.Eval("SyncCurrent", current); err != nil {
		return nil, err
	}
	if o.Sync != nil {
		return o.Sync(current)
	}
	if current.Status.Exists() && o.World() == nil {
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	return nil, nil
}

func (o *Operator) CreateEntity(_ context.Context, desired *virtops.Record) (*virtops.Record, error) {
	o.record("CreateEntity", desired)
	if err := o.Faults.Eval("CreateEntity", desired); err != nil {
		return nil, err
	}
	created := desired.WithStatus(virtops.StatusActive)
	o.SetWorld(created)
	return created, nil
}

func (o *Operator) DestroyEntity(_ context.Context, current *virtops.Record) error {
	o.record("DestroyEntity", current)
	if err := o.Faults.Eval("DestroyEntity", current); err != nil {
		return err
	}
	o.SetWorld(nil)
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return o.Changes
}

func (o *Operator) Validate(desired *virtops.Record) error {
	o.record("Validate", desired)
	if err := o.Faults.Eval("Validate", desired); err != nil {
		return err
	}
	if o.Check != nil {
		return o.Check(desired)
	}
	return nil
}

// FieldChange returns a change function named name that copies field from
// desired into current when the two differ. Its calls are recorded as
// "Change" with the name as argument and it fails at the "Change:<name>"
// fault point.
func (o *Operator) FieldChange(name, field string) reconcile.ChangeFunc {
	return reconcile.ChangeFunc{
		Name: name,
		Apply: func(_ context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
			o.record("Change", name)
			if err := o.Faults.Eval("Change:"+name, current, desired); err != nil {
				return nil, err
			}
			want, ok := desired.Fields[field]
			if !ok {
				return nil, nil
			}
			if MatchField(current, field, want) {
				return nil, nil
			}
			next := current.With(field, want)
			o.mu.Lock()
			if o.world != nil {
				o.world = o.world.With(field, want)
			}
			o.mu.Unlock()
			return next, nil
		},
	}
}

// MatchField reports whether r carries field with value want.
func MatchField(r *virtops.Record, field string, want any) bool {
	probe := &virtops.Record{Status: r.Status, Fields: virtops.Fields{field: want}}
	return virtops.MatchStates(r, probe)
}
