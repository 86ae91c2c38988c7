package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"virtops"
	"virtops/internal/check"
)

// Reconciler runs decision passes for one entity kind.
type Reconciler struct {
	op  Operator
	log *slog.Logger
}

// New creates a reconciler driving op.
func New(op Operator) *Reconciler {
	check.Assert(op != nil, "reconcile.New: operator must not be nil")
	return &Reconciler{op: op, log: slog.With("component", "reconciler")}
}

// Operator returns the operator the reconciler drives.
func (r *Reconciler) Operator() Operator { return r.op }

// Validate checks desired with the operator's Validator, if it has one.
// Deletion requests are never validated.
func (r *Reconciler) Validate(desired *virtops.Record) error {
	return Validate(r.op, desired)
}

// Validate checks desired with op's Validator, if op implements one.
func Validate(op Operator, desired *virtops.Record) error {
	if virtops.WantsDeletion(desired) {
		return nil
	}
	v, ok := op.(Validator)
	if !ok {
		return nil
	}
	return v.Validate(desired.Clone())
}

// Run performs one pass over (current, desired). Either may be nil.
//
// On error the returned outcome still describes what the store should hold:
// with Persist unset the stored record stays as it is, with Persist set (a
// Partial failure) Current is an error-status record to write back.
func (r *Reconciler) Run(ctx context.Context, current, desired *virtops.Record) (Outcome, error) {
	// A record without a status is active.
	if current != nil && current.Status == 0 {
		current = current.WithStatus(virtops.StatusActive)
	}
	unchanged := Outcome{Action: ActionNone, Current: current}

	// Error records are rebuilt rather than re-observed.
	if current != nil && current.Status != virtops.StatusError {
		synced, err := r.op.SyncCurrent(ctx, current.Clone())
		if err != nil {
			return unchanged, &DriftError{Err: err}
		}
		if synced != nil && !synced.Equal(current) {
			r.log.Debug("drift corrected", "from", current.Status, "to", synced.Status)
			return Outcome{Action: ActionSync, Current: synced, Persist: true}, nil
		}
	}

	if virtops.WantsDeletion(desired) {
		if virtops.Gone(current) {
			return unchanged, nil
		}
		return r.destroy(ctx, current)
	}

	if current == nil || current.Status == virtops.StatusDeleted || current.Status == virtops.StatusError {
		return r.create(ctx, current, desired)
	}

	for _, fn := range r.op.ChangeFunctions() {
		next, err := fn.Apply(ctx, current.Clone(), desired.Clone())
		if err != nil {
			return r.failed(current, desired, &ActionError{Action: ActionChange, Change: fn.Name, Err: err})
		}
		if next == nil || next.Equal(current) {
			continue
		}
		return Outcome{Action: ActionChange, Change: fn.Name, Current: next, Persist: true}, nil
	}
	return unchanged, nil
}

func (r *Reconciler) destroy(ctx context.Context, current *virtops.Record) (Outcome, error) {
	if err := r.op.DestroyEntity(ctx, current.Clone()); err != nil {
		return r.failed(current, nil, &ActionError{Action: ActionDestroy, Err: err})
	}
	next := current.WithStatus(current.Status.Transition(virtops.StatusDeleted))
	return Outcome{Action: ActionDestroy, Current: next, Persist: true}, nil
}

func (r *Reconciler) create(ctx context.Context, current, desired *virtops.Record) (Outcome, error) {
	created, err := r.op.CreateEntity(ctx, desired.Clone())
	if err != nil {
		return r.failed(current, desired, &ActionError{Action: ActionCreate, Err: err})
	}
	if created == nil {
		return Outcome{Action: ActionNone, Current: current}, &ActionError{
			Action: ActionCreate,
			Err:    errors.New("operator returned no record"),
		}
	}
	if created.Status == 0 {
		created.Status = virtops.StatusActive
	}
	return Outcome{Action: ActionCreate, Current: created, Persist: true}, nil
}

// failed builds the outcome for an operator error. Partial failures leave an
// error-status record behind; anything else keeps the stored record.
func (r *Reconciler) failed(current, desired *virtops.Record, err *ActionError) (Outcome, error) {
	if !IsPartial(err) {
		return Outcome{Action: err.Action, Change: err.Change, Current: current}, err
	}
	base := current
	if base == nil || base.Status == virtops.StatusDeleted {
		base = desired
	}
	if base == nil {
		base = &virtops.Record{Fields: virtops.Fields{}}
	}
	marked := base.WithStatus(virtops.StatusError)
	r.log.Warn("action left entity in error state", "action", err.Action, "change", err.Change, "err", err.Err)
	return Outcome{Action: err.Action, Change: err.Change, Current: marked, Persist: true}, err
}
