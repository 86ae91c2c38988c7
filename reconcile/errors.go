package reconcile

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"

	"virtops"
)

// ValidationError reports a desired record that cannot be acted on.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid desired state: " + e.Message
	}
	return fmt.Sprintf("invalid desired state: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return errdefs.ErrInvalidArgument }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RejectZero fails for the first of fields that desired sets explicitly to
// a zero value. Operators read a zero as unset, so such a field is omitted
// or given a real value.
func RejectZero(desired *virtops.Record, fields ...string) error {
	for _, f := range fields {
		v, ok := desired.Fields[f]
		if ok && isZero(v) {
			return Invalid(f, "%v is not allowed, omit the field to leave it unset", zeroText(v))
		}
	}
	return nil
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return x == 0
	case int:
		return x == 0
	}
	return false
}

func zeroText(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}

// DriftError reports that the real-world state of an entity could not be
// determined.
type DriftError struct {
	Err error
}

func (e *DriftError) Error() string { return "sync current state: " + e.Err.Error() }

func (e *DriftError) Unwrap() error { return e.Err }

func (e *DriftError) Is(target error) bool { return target == errdefs.ErrUnavailable }

// ActionError reports a failed create, destroy, or change.
type ActionError struct {
	Action Action
	Change string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Change != "" {
		return fmt.Sprintf("%s %s: %v", e.Action, e.Change, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

// Partial marks err as having possibly left external state half changed. The
// reconciler answers such errors with an error-status record so the next pass
// rebuilds the entity from scratch.
func Partial(err error) error {
	if err == nil {
		return nil
	}
	return &partialError{err: err}
}

// IsPartial reports whether err, or any error it wraps, was marked Partial.
func IsPartial(err error) bool {
	var p *partialError
	return errors.As(err, &p)
}
