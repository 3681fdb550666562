package autogen

import (
	"errors"
	"fmt"
)

// RuleError reports a rule applied where it cannot be.
type RuleError struct {
	// Code identifies the error category.
	Code RuleErrorCode

	// Message is a human-readable description.
	Message string

	// Rule is the rule name.
	Rule string

	// Block names the schedule block involved, if any.
	Block string

	// Err is the underlying cause, if any.
	Err error
}

// RuleErrorCode categorizes rule errors.
type RuleErrorCode string

const (
	// ErrCodeInvalidOccurrenceIndex indicates Apply was called with an
	// index outside the occurrences cached by Init, or before Init.
	ErrCodeInvalidOccurrenceIndex RuleErrorCode = "INVALID_OCCURRENCE_INDEX"

	// ErrCodeMalformedLoopNest indicates a loop nest whose shape the rule
	// cannot handle.
	ErrCodeMalformedLoopNest RuleErrorCode = "MALFORMED_LOOP_NEST"
)

// Error implements the error interface.
func (e *RuleError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Rule != "" && e.Block != "":
		msg = fmt.Sprintf("%s (rule=%s, block=%s)", msg, e.Rule, e.Block)
	case e.Rule != "":
		msg = fmt.Sprintf("%s (rule=%s)", msg, e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuleError) Unwrap() error { return e.Err }

// IsInvalidOccurrenceIndex returns true if err reports an out-of-range
// occurrence index.
func IsInvalidOccurrenceIndex(err error) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvalidOccurrenceIndex
	}
	return false
}

// IsMalformedLoopNest returns true if err reports a malformed loop nest.
func IsMalformedLoopNest(err error) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMalformedLoopNest
	}
	return false
}

func malformed(format string, args ...any) *RuleError {
	return &RuleError{Code: ErrCodeMalformedLoopNest, Message: fmt.Sprintf(format, args...)}
}
