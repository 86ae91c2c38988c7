// Package check guards internal invariants such as legal status transitions
// and required constructor arguments. The guards only run in builds tagged
// debug (go test -tags debug ./...). Release builds compile them to no-ops,
// so callers still handle the failure path themselves.
package check

// Violation is the value a failed guard panics with in debug builds.
type Violation struct {
	Msg string
}

func (v *Violation) Error() string { return "invariant violated: " + v.Msg }
