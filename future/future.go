// Package future implements poll-based futures: the unit of work that the
// executor drives and that the reactor and the lock primitives wake.
//
// A [Future] is polled with a [Context] carrying a [Waker]. Poll either
// returns a value and true (ready), or false (pending), in which case the
// future has arranged for the waker to be invoked once progress is possible.
// Polling a future again after it reported ready is allowed, and returns the
// same value, unless documented otherwise.
//
// Go has no destructors, so cancellation is explicit: futures that hold
// registrations (listeners, reactor waker slots, child futures) implement
// [Canceler], and callers that abandon a pending future should pass it to
// [Cancel].
package future

import (
	"errors"
	"fmt"
	"runtime/debug"
)

type (
	// Future is a value that may not be available yet.
	Future[T any] interface {
		// Poll attempts to resolve the value, returning true if it is
		// available. If it returns false, the waker from cx will be invoked
		// when the future should be polled again.
		Poll(cx *Context) (T, bool)
	}

	// Func adapts a function to a [Future].
	Func[T any] func(cx *Context) (T, bool)

	// Canceler is implemented by futures that must release resources (wait
	// list entries, waker registrations) when abandoned before completion.
	Canceler interface {
		Cancel()
	}

	// Result pairs a value with an error, for futures that may fail.
	Result[T any] struct {
		Value T
		Err   error
	}

	// PanicError is the error produced when a task or job panicked.
	PanicError struct {
		// Value is the value passed to panic.
		Value any
		// Stack is the stack of the panicking goroutine.
		Stack []byte
	}
)

var (
	// ErrCancelled indicates the future was cancelled before it completed.
	ErrCancelled = errors.New("future: cancelled")

	// ErrTimeout indicates a deadline elapsed before the future completed.
	ErrTimeout = errors.New("future: timed out")
)

func (f Func[T]) Poll(cx *Context) (T, bool) { return f(cx) }

// Cancel cancels f if it implements [Canceler], otherwise it does nothing.
func Cancel(f any) {
	if c, ok := f.(Canceler); ok {
		c.Cancel()
	}
}

// Get unpacks the result.
func (x Result[T]) Get() (T, error) { return x.Value, x.Err }

// NewPanicError captures the current stack, for use within a deferred
// recover.
func NewPanicError(value any) *PanicError {
	return &PanicError{Value: value, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("future: panic: %v", e.Value)
}

// Unwrap returns the panic value, if it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
