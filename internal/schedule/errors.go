package schedule

import (
	"errors"
	"fmt"
)

// Error is returned when a primitive cannot be applied to its arguments.
type Error struct {
	// Op is the primitive that failed.
	Op string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func errorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is a primitive failure.
// Uses errors.As to handle wrapped errors.
func IsError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
