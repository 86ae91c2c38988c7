//go:build debug

package check

import (
	"errors"
	"testing"
)

func TestAssertf_PanicsWithViolation(t *testing.T) {
	defer func() {
		err, ok := recover().(error)
		var v *Violation
		if !ok || !errors.As(err, &v) {
			t.Fatalf("recover() = %v, want *Violation", err)
		}
		if got, want := v.Error(), "invariant violated: status active -> 9"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	}()
	Assert(true, "unused")
	Assertf(false, "status %s -> %d", "active", 9)
}
