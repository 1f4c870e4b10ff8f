package manager

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package matches one of
// them with errors.Is. Errors returned by a concrete Start or Stop are
// passed through untouched and match neither.
var (
	// ErrInvalidArgument reports a bad argument, such as a nil task.
	ErrInvalidArgument = errors.New("manager: invalid argument")

	// ErrInvalidOperation reports caller misuse of the async protocol.
	ErrInvalidOperation = errors.New("manager: invalid operation")
)

var (
	// ErrNilTask is returned by EndStart and EndStop when the task is nil.
	ErrNilTask = fmt.Errorf("%w: nil task", ErrInvalidArgument)

	// ErrNoOutstanding is returned by EndStart and EndStop when the task is
	// not the outstanding operation of that direction: it was already
	// ended, it was never begun, or it belongs to another operation.
	ErrNoOutstanding = fmt.Errorf("%w: wrong task or end called multiple times", ErrInvalidOperation)

	// ErrClosed is returned when an operation is begun on a closed manager.
	ErrClosed = fmt.Errorf("%w: manager closed", ErrInvalidOperation)
)
