//go:build debug

package check

import "fmt"

// Assert panics with a *Violation carrying msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic(&Violation{Msg: msg})
	}
}

// Assertf is Assert with a formatted message. The message is only built on
// failure.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(&Violation{Msg: fmt.Sprintf(format, args...)})
	}
}
