package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/loopsched/internal/compiler"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/trace"
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build or IR build failed
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeInvalid      = "E008" // Workload failed validation
	ErrCodeTraceInvalid = "E009" // Trace does not parse or import
)

// LoadError represents an error that occurred while loading a workload or
// trace file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadWorkload compiles the named workload from a CUE file or directory.
func loadWorkload(path, name string) (*ir.Workload, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("workload path not found: %s", path)}
	}
	w, err := compiler.LoadWorkload(path, name)
	if err != nil {
		return nil, convertLoadError(err)
	}
	return w, nil
}

// convertLoadError converts a compiler error to a LoadError with position
// info.
func convertLoadError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{Code: ErrCodeBuildFailed, Message: compileErr.Message, Pos: compileErr.Pos}
	}
	var invalid *compiler.InvalidWorkloadError
	if errors.As(err, &invalid) {
		return &LoadError{Code: ErrCodeInvalid, Message: invalid.Error()}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// readTraceFile parses and imports a serialized trace, so every record is
// checked against the step registry.
func readTraceFile(path string) (trace.Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return trace.Trace{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("trace file not found: %s", path)}
		}
		return trace.Trace{}, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	t, err := trace.ParseTrace(data)
	if err != nil {
		return trace.Trace{}, &LoadError{Code: ErrCodeTraceInvalid, Message: err.Error()}
	}
	if _, err := trace.Import(t); err != nil {
		return trace.Trace{}, &LoadError{Code: ErrCodeTraceInvalid, Message: err.Error()}
	}
	return t, nil
}

// writeTraceFile writes the canonical encoding of t.
func writeTraceFile(path string, t trace.Trace) error {
	data, err := t.MarshalCanonical()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()}
	}
	return nil
}

func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
