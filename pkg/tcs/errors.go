package tcs

import (
	"errors"
	"fmt"
)

var (
	// ErrDriverRegistrationFailed is returned by the constructors when the configured driver is unknown.
	// The pool is unusable. You can check for this error with errors.Is
	ErrDriverRegistrationFailed = errors.New("failed to register driver")

	// ErrConnectionAcquireFailed is returned when the Provider fails to create or re-create a raw connection.
	// The pool remains usable.
	ErrConnectionAcquireFailed = errors.New("failed to get connection")

	// ErrPoolExhausted is returned when every connection is in use and MaxConnectionCount has been reached.
	ErrPoolExhausted = errors.New("maximum number of connections reached")

	// ErrConnectionClosed is returned when an operation is attempted on a released ConnectionHost.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrConnectionCloseFailed is returned when a connection not provided by this pool fails to close.
	ErrConnectionCloseFailed = errors.New("failed to close connection")

	// ErrConnectionPoolClosed is returned when a connection pool shutdown has been triggered
	ErrConnectionPoolClosed = errors.New("connection pool closed")
)

// wrapError keeps kind inspectable with errors.Is while still carrying the cause.
func wrapError(kind error, cause error) error {
	if cause == nil {
		return kind
	}

	return fmt.Errorf("%w: %w", kind, cause)
}
