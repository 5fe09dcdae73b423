package scope

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrCancelled is the cause-independent marker of every cancellation
	// error returned by a suspension point. Cancellation is a normal way for
	// a task to end and is never reported as a failure.
	ErrCancelled = errors.New("scope: cancelled")

	// ErrTimedOut is the cancellation cause used by Timeout and WithTimeout.
	// errors.Is(ErrTimedOut, ErrCancelled) holds.
	ErrTimedOut = fmt.Errorf("%w: timed out", ErrCancelled)

	errScopeClosed = errors.New("scope: spawn on completed scope")
)

// IsCancellation reports whether err ends a task as Cancelled rather than
// Failed.
func IsCancellation(err error) bool { return errors.Is(err, ErrCancelled) }

// cancelErr turns a cancellation cause into the error seen at suspension
// points: it matches ErrCancelled and still unwraps to the cause.
func cancelErr(cause error) error {
	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}

// PanicError wraps a value recovered from a panicking task body together
// with the stack of the panicking goroutine.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

func newPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}
