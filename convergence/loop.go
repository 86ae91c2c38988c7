package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"virtops"
	"virtops/internal/check"
	"virtops/reconcile"
)

const tracerName = "virtops/convergence"

// ErrStalled is returned when a pass takes no action although the store still
// reports work for the identity. It usually means the store and the operator
// disagree on what matching means.
var ErrStalled = errors.New("reconciler made no progress")

// Result summarizes one Converge call.
type Result struct {
	Identity virtops.Identity
	// Passes counts reconcile passes, excluding the final store check.
	Passes int
	// Actions lists the label of every pass in order, e.g. "create".
	Actions []string
	// Current is the last record written to the store.
	Current *virtops.Record
}

// Changed reports whether any pass acted on the entity.
func (r Result) Changed() bool { return len(r.Actions) > 0 }

// Option configures a Loop.
type Option func(*Loop)

// WithTracer sets the tracer spans are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// Loop drives one entity kind to convergence.
type Loop struct {
	store      Store
	reconciler *reconcile.Reconciler
	tracer     trace.Tracer
	log        *slog.Logger
}

// New creates a convergence loop over store using reconciler.
func New(store Store, reconciler *reconcile.Reconciler, opts ...Option) *Loop {
	check.Assert(store != nil, "convergence.New: store must not be nil")
	check.Assert(reconciler != nil, "convergence.New: reconciler must not be nil")
	l := &Loop{store: store, reconciler: reconciler}
	for _, opt := range opts {
		opt(l)
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

// Converge runs passes for id until the store returns no more work.
//
// The desired record is validated before the first action. An operator
// failure stops the loop; a record the reconciler marked as failed is
// persisted first so the next run starts from it.
func (l *Loop) Converge(ctx context.Context, id virtops.Identity) (res Result, err error) {
	res.Identity = id
	if err := id.Validate(); err != nil {
		return res, fmt.Errorf("converge: %w", err)
	}

	log := l.log.With("kind", id.Kind, "name", id.Name)
	ctx, span := l.tracer.Start(ctx, "converge "+id.String(), trace.WithAttributes(
		attribute.String("virtops.kind", id.Kind),
		attribute.String("virtops.name", id.Name),
	))
	defer func() {
		span.SetAttributes(attribute.Int("virtops.passes", res.Passes))
		endSpan(span, err)
	}()

	if locker, ok := l.store.(Locker); ok {
		unlock, err := locker.Lock(ctx, id)
		if err != nil {
			return res, fmt.Errorf("lock %s: %w", id, err)
		}
		defer unlock()
	}

	validated := false
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		current, desired, err := l.store.GetStates(ctx, id)
		if err != nil {
			return res, fmt.Errorf("get states of %s: %w", id, err)
		}
		if current == nil && desired == nil {
			log.Debug("converged", "passes", res.Passes)
			return res, nil
		}

		if !validated {
			if err := l.reconciler.Validate(desired); err != nil {
				return res, fmt.Errorf("validate %s: %w", id, err)
			}
			validated = true
		}

		res.Passes++
		out, err := l.pass(ctx, id, res.Passes, current, desired)
		if out.Persist {
			res.Current = out.Current
		}
		if err != nil {
			log.Warn("pass failed", "pass", res.Passes, "action", out.Label(), "err", err)
			return res, err
		}
		if out.Action == reconcile.ActionNone {
			return res, fmt.Errorf("%s: %w", id, ErrStalled)
		}
		res.Actions = append(res.Actions, out.Label())
		log.Info("pass applied", "pass", res.Passes, "action", out.Label(), "status", out.Current.Status)
	}
}

// pass runs one reconcile step and persists its outcome.
func (l *Loop) pass(ctx context.Context, id virtops.Identity, n int, current, desired *virtops.Record) (out reconcile.Outcome, err error) {
	ctx, span := l.tracer.Start(ctx, "pass", trace.WithAttributes(attribute.Int("virtops.pass", n)))
	defer func() {
		span.SetName(out.Label())
		span.SetAttributes(attribute.String("virtops.action", out.Action.String()))
		if out.Change != "" {
			span.SetAttributes(attribute.String("virtops.change", out.Change))
		}
		endSpan(span, err)
	}()

	out, runErr := l.reconciler.Run(ctx, current, desired)
	if out.Persist {
		if err := l.store.SetCurrent(ctx, id, out.Current); err != nil {
			saveErr := fmt.Errorf("persist current of %s: %w", id, err)
			if runErr != nil {
				return out, errors.Join(fmt.Errorf("%s: %w", id, runErr), saveErr)
			}
			return out, saveErr
		}
	}
	if runErr != nil {
		return out, fmt.Errorf("%s: %w", id, runErr)
	}
	return out, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
