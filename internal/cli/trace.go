package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - list this session's traces
	ID       string // optional - show one trace
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID         string   `json:"id"`
	Seq        int64    `json:"seq"`
	Workload   string   `json:"workload"`
	WorkloadID string   `json:"workload_id"`
	Target     string   `json:"target"`
	Rules      []string `json:"rules"`
}

// TraceSummary is one row of a session's trace listing.
type TraceSummary struct {
	ID    string `json:"id"`
	Seq   int64  `json:"seq"`
	Root  int    `json:"root"`
	Steps int    `json:"steps"`
}

// TraceResult holds the trace command output. Exactly one field is set.
type TraceResult struct {
	Sessions []SessionSummary `json:"sessions,omitempty"`
	Traces   []TraceSummary   `json:"traces,omitempty"`
	Trace    *trace.Trace     `json:"trace,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect stored sessions and traces",
		Long: `Inspect the sessions and traces stored by "loopsched schedule --db".

Without --session or --id, lists every session. With --session, lists the
session's traces in order. With --id, prints the trace's steps.

Examples:
  loopsched trace --db ./loopsched.db
  loopsched trace --db ./loopsched.db --session <id>
  loopsched trace --db ./loopsched.db --id <trace> --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "list the traces of this session")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show this trace")
	cmd.MarkFlagsMutuallyExclusive("session", "id")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Open creates missing databases; a typo should not.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var result TraceResult
	switch {
	case opts.ID != "":
		t, err := st.ReadTrace(ctx, opts.ID)
		if errors.Is(err, sql.ErrNoRows) {
			if opts.Format == "json" {
				_ = writeJSONError(w, ErrCodeNotFound, "trace not found", map[string]string{"id": opts.ID})
			}
			return NewExitError(ExitCommandError, fmt.Sprintf("trace not found: %s", opts.ID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		result.Trace = &t

	case opts.Session != "":
		if _, err := st.ReadSession(ctx, opts.Session); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
			}
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
		entries, err := st.ListTraces(ctx, opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list traces", err)
		}
		result.Traces = make([]TraceSummary, len(entries))
		for i, e := range entries {
			result.Traces[i] = TraceSummary{ID: e.ID, Seq: e.Seq, Root: e.Root, Steps: e.Steps}
		}

	default:
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		result.Sessions = make([]SessionSummary, len(sessions))
		for i, s := range sessions {
			result.Sessions[i] = SessionSummary{
				ID:         s.ID,
				Seq:        s.Seq,
				Workload:   s.WorkloadName,
				WorkloadID: s.WorkloadID,
				Target:     s.Target,
				Rules:      s.Rules,
			}
		}
	}

	if opts.Format == "json" {
		return writeJSON(w, result)
	}
	outputTraceText(w, opts, result)
	return nil
}

func outputTraceText(w io.Writer, opts *TraceOptions, r TraceResult) {
	switch {
	case r.Trace != nil:
		fmt.Fprintf(w, "Trace: %s (version %s, %d steps)\n\n", opts.ID, r.Trace.Version, len(r.Trace.Steps))
		for i, rec := range r.Trace.Steps {
			fmt.Fprintf(w, "  [%d] %s\n", i, formatRecord(rec))
		}
	case opts.Session != "":
		if len(r.Traces) == 0 {
			fmt.Fprintf(w, "No traces found for session: %s\n", opts.Session)
			return
		}
		fmt.Fprintf(w, "Session: %s\n\n", opts.Session)
		for _, t := range r.Traces {
			fmt.Fprintf(w, "  %3d. %s root=%d steps=%d\n", t.Seq, t.ID, t.Root, t.Steps)
		}
	default:
		if len(r.Sessions) == 0 {
			fmt.Fprintln(w, "No sessions found in database.")
			return
		}
		for _, s := range r.Sessions {
			fmt.Fprintf(w, "  %3d. %s %s on %s %v\n", s.Seq, s.ID, s.Workload, s.Target, s.Rules)
		}
	}
}

// formatRecord renders a record as "outs = Kind(slot=[names], attr=value)".
func formatRecord(rec trace.Record) string {
	var args []string
	for _, slot := range sortedMapKeys(rec.Inputs) {
		args = append(args, fmt.Sprintf("%s=[%s]", slot, strings.Join(rec.Inputs[slot], ", ")))
	}
	for _, name := range sortedMapKeys(rec.Attrs) {
		args = append(args, fmt.Sprintf("%s=%v", name, rec.Attrs[name]))
	}
	call := fmt.Sprintf("%s(%s)", rec.Type, strings.Join(args, ", "))
	if len(rec.Outputs) == 0 {
		return call
	}
	return strings.Join(rec.Outputs, ", ") + " = " + call
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
