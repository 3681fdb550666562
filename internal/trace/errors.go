package trace

import (
	"errors"
	"fmt"
)

// Error is a trace integrity or step application failure.
//
// None of these are expected at runtime: they indicate a malformed or
// hand-edited trace, a replay against an incompatible IR, or a caller bug.
// The caller discards the affected state rather than retrying.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind is the step kind involved, if any.
	Kind string

	// Step is the index of the offending step, or -1.
	Step int

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes trace errors.
type ErrorCode string

const (
	// ErrCodeUnknownOperationKind indicates a step kind missing from the registry.
	ErrCodeUnknownOperationKind ErrorCode = "UNKNOWN_OPERATION_KIND"

	// ErrCodeArityMismatch indicates missing or extra inputs, attributes or outputs.
	ErrCodeArityMismatch ErrorCode = "ARITY_MISMATCH"

	// ErrCodeDanglingInputReference indicates an input that no earlier step produced.
	ErrCodeDanglingInputReference ErrorCode = "DANGLING_INPUT_REFERENCE"

	// ErrCodeReplayDivergence indicates the replay target is not compatible
	// with the recorded IR.
	ErrCodeReplayDivergence ErrorCode = "REPLAY_DIVERGENCE"

	// ErrCodeAttributeTypeMismatch indicates a value read with the wrong tag.
	ErrCodeAttributeTypeMismatch ErrorCode = "ATTRIBUTE_TYPE_MISMATCH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Kind != "" && e.Step >= 0:
		msg = fmt.Sprintf("%s (kind=%s, step=%d)", msg, e.Kind, e.Step)
	case e.Kind != "":
		msg = fmt.Sprintf("%s (kind=%s)", msg, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, kind string, step int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Kind: kind, Step: step}
}

// HasCode reports whether err is a trace error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsUnknownOperationKind returns true if err reports an unregistered step kind.
func IsUnknownOperationKind(err error) bool {
	return HasCode(err, ErrCodeUnknownOperationKind)
}

// IsArityMismatch returns true if err reports an arity mismatch.
func IsArityMismatch(err error) bool {
	return HasCode(err, ErrCodeArityMismatch)
}

// IsDanglingInputReference returns true if err reports a dangling input.
func IsDanglingInputReference(err error) bool {
	return HasCode(err, ErrCodeDanglingInputReference)
}

// IsReplayDivergence returns true if err reports a replay divergence.
func IsReplayDivergence(err error) bool {
	return HasCode(err, ErrCodeReplayDivergence)
}

// IsAttributeTypeMismatch returns true if err reports a wrong value tag.
func IsAttributeTypeMismatch(err error) bool {
	return HasCode(err, ErrCodeAttributeTypeMismatch)
}
