package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/loopsched/internal/compiler"
	"github.com/roach88/loopsched/internal/trace"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Workload string
	Trace    string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Workloads []string                   `json:"workloads,omitempty"`
	TraceID   string                     `json:"trace_id,omitempty"`
	Steps     int                        `json:"steps,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workload definitions and trace files",
		Long: `Validate CUE workload definitions and serialized traces without scheduling.

Workloads are unified with the schema and checked for axis, op and stage-order
errors. Traces are parsed and every step is checked against the step registry:
known kind, input and attribute shapes, and names produced by earlier steps.

Exit codes:
  0 - Everything is valid
  1 - Validation errors found
  2 - Command error (missing files, etc.)

Examples:
  loopsched validate --workload ./workloads.cue
  loopsched validate --trace rowsum.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Workload, "workload", "", "CUE workload file or directory")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "trace file")
	cmd.MarkFlagsOneRequired("workload", "trace")

	return cmd
}

func runValidate(opts *ValidateOptions, w io.Writer) error {
	result := ValidationResult{}

	if opts.Workload != "" {
		if _, err := os.Stat(opts.Workload); err != nil {
			return WrapExitError(ExitCommandError, "workload path not found", err)
		}
		ws, err := compiler.LoadWorkloads(opts.Workload)
		if err != nil {
			result.Errors = append(result.Errors, workloadErrors(err)...)
		}
		for _, wl := range ws {
			result.Workloads = append(result.Workloads, wl.Name)
		}
	}

	if opts.Trace != "" {
		if _, err := os.Stat(opts.Trace); err != nil {
			return WrapExitError(ExitCommandError, "trace file not found", err)
		}
		t, err := readTraceFile(opts.Trace)
		if err != nil {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "trace",
				Message: traceMessage(err),
				Code:    loadErrorCode(err),
			})
		} else {
			result.Steps = len(t.Steps)
			result.TraceID = trace.MustTraceID(t)
		}
	}

	result.Valid = len(result.Errors) == 0
	if opts.Format == "json" {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else {
		outputValidateText(w, result)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

// workloadErrors flattens a LoadWorkloads error into validation errors.
func workloadErrors(err error) []compiler.ValidationError {
	var invalid *compiler.InvalidWorkloadError
	if errors.As(err, &invalid) {
		out := make([]compiler.ValidationError, len(invalid.Errors))
		for i, ve := range invalid.Errors {
			ve.Field = invalid.Name + "." + ve.Field
			out[i] = ve
		}
		return out
	}
	le := convertLoadError(err)
	return []compiler.ValidationError{{Field: "workload", Message: le.Error(), Code: le.Code}}
}

func traceMessage(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}

func outputValidateText(w io.Writer, r ValidationResult) {
	if r.Valid {
		fmt.Fprintln(w, "✓ Validation passed")
	} else {
		fmt.Fprintf(w, "✗ Validation failed with %d error(s)\n", len(r.Errors))
	}
	if len(r.Workloads) > 0 {
		fmt.Fprintf(w, "  Workloads: %v\n", r.Workloads)
	}
	if r.TraceID != "" {
		fmt.Fprintf(w, "  Trace: %s (%d steps)\n", r.TraceID, r.Steps)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
