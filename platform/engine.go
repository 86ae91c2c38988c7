package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel/trace"

	"virtops"
	"virtops/convergence"
	"virtops/reconcile"
)

// Engine runs the CLI operations against one store.
type Engine struct {
	store  Store
	deps   Deps
	lookup func(string) (Kind, error)
	opts   []convergence.Option
	log    *slog.Logger
}

type EngineOption func(*Engine)

// WithTracer records convergence spans with t.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.opts = append(e.opts, convergence.WithTracer(t)) }
}

// WithKinds replaces the kind registry, e.g. with fake operators.
func WithKinds(lookup func(string) (Kind, error)) EngineOption {
	return func(e *Engine) { e.lookup = lookup }
}

func NewEngine(store Store, deps Deps, opts ...EngineOption) *Engine {
	e := &Engine{store: store, deps: deps, lookup: Lookup, log: slog.With("component", "engine")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's store.
func (e *Engine) Store() Store { return e.store }

func (e *Engine) reconciler(id virtops.Identity) (*reconcile.Reconciler, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	kind, err := e.lookup(id.Kind)
	if err != nil {
		return nil, err
	}
	return reconcile.New(kind.New(id.Name, e.deps)), nil
}

// Apply validates desired and records it as the desired state of id.
// Nothing is changed on the host.
func (e *Engine) Apply(ctx context.Context, id virtops.Identity, desired *virtops.Record) error {
	r, err := e.reconciler(id)
	if err != nil {
		return err
	}
	if err := r.Validate(desired); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := e.store.SetDesired(ctx, id, desired); err != nil {
		return fmt.Errorf("store desired state of %s: %w", id, err)
	}
	e.log.Info("desired state recorded", "kind", id.Kind, "name", id.Name, "status", desired.Status)
	return nil
}

// Delete requests the removal of a tracked entity.
func (e *Engine) Delete(ctx context.Context, id virtops.Identity) error {
	if _, err := e.reconciler(id); err != nil {
		return err
	}
	current, err := e.load(ctx, id, virtops.SlotCurrent)
	if err != nil {
		return err
	}
	desired, err := e.load(ctx, id, virtops.SlotDesired)
	if err != nil {
		return err
	}
	if current == nil && desired == nil {
		return fmt.Errorf("%s is not tracked: %w", id, errdefs.ErrNotFound)
	}
	if err := e.store.SetDesired(ctx, id, nil); err != nil {
		return fmt.Errorf("clear desired state of %s: %w", id, err)
	}
	return nil
}

// Forget drops every record of id. It refuses while the entity may still
// exist on the host.
func (e *Engine) Forget(ctx context.Context, id virtops.Identity) error {
	current, err := e.load(ctx, id, virtops.SlotCurrent)
	if err != nil {
		return err
	}
	if !virtops.Gone(current) {
		return fmt.Errorf("%s still exists, delete it first: %w", id, errdefs.ErrFailedPrecondition)
	}
	return e.store.Forget(ctx, id)
}

// Converge drives id to its desired state.
func (e *Engine) Converge(ctx context.Context, id virtops.Identity) (convergence.Result, error) {
	r, err := e.reconciler(id)
	if err != nil {
		return convergence.Result{Identity: id}, err
	}
	return convergence.New(e.store, r, e.opts...).Converge(ctx, id)
}

// ConvergeAll converges ids, or every tracked identity when ids is empty,
// with at most limit in flight.
func (e *Engine) ConvergeAll(ctx context.Context, ids []virtops.Identity, limit int) ([]convergence.Result, error) {
	if len(ids) == 0 {
		entries, err := e.store.List(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			ids = append(ids, entry.Identity)
		}
	}
	return convergence.RunAll(ctx, ids, limit, e.Converge)
}

// Status lists the tracked identities of kind, or of every kind.
func (e *Engine) Status(ctx context.Context, kind string) ([]virtops.Entry, error) {
	if kind != "" {
		if _, err := e.lookup(kind); err != nil {
			return nil, err
		}
	}
	return e.store.List(ctx, kind)
}

func (e *Engine) load(ctx context.Context, id virtops.Identity, slot virtops.Slot) (*virtops.Record, error) {
	rec, err := e.store.Load(ctx, id, slot)
	if errors.Is(err, errdefs.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}
