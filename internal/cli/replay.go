package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/loopsched/internal/codegen"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Workload string
	Name     string

	// Trace file, or a stored trace addressed by Database, Session and ID.
	Trace    string
	Database string
	Session  string
	ID       string

	Emit bool
}

// ReplayResult holds the replay command output.
type ReplayResult struct {
	Workload      string `json:"workload"`
	TraceID       string `json:"trace_id"`
	Steps         int    `json:"steps"`
	Deterministic bool   `json:"deterministic"`
	Dump          string `json:"dump"`
	Source        string `json:"source,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a trace and verify determinism",
		Long: `Replay a recorded trace onto freshly built IR and verify determinism.

The trace is replayed twice, each time onto a new build of the workload. Both
runs must produce the same IR dump and the same emitted source.

Exit codes:
  0 - Replay is deterministic
  1 - The two replays differ
  2 - Command error (missing files, trace does not apply, etc.)

Examples:
  loopsched replay --workload ./workloads.cue --name rowsum --trace rowsum.json
  loopsched replay --workload ./workloads.cue --name rowsum --db ./loopsched.db --session <id> --id <trace>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Workload, "workload", "", "CUE workload file or directory (required)")
	_ = cmd.MarkFlagRequired("workload")
	cmd.Flags().StringVar(&opts.Name, "name", "", "workload name (optional for single-workload files)")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "trace file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database holding the trace")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session of the stored trace")
	cmd.Flags().StringVar(&opts.ID, "id", "", "stored trace ID")
	cmd.Flags().BoolVar(&opts.Emit, "emit", false, "include emitted source")
	cmd.MarkFlagsMutuallyExclusive("trace", "db")
	cmd.MarkFlagsOneRequired("trace", "db")
	cmd.MarkFlagsRequiredTogether("db", "session", "id")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wl, err := loadWorkload(opts.Workload, opts.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workload", err)
	}

	restore, done, err := opts.restorer(ctx)
	if err != nil {
		return err
	}
	defer done()

	var dumps, sources [2]string
	var steps int
	for run := range 2 {
		m, err := ir.Build(*wl, nil)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build workload", err)
		}
		st, err := restore(m)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("replay %d failed", run+1), err)
		}
		steps = st.Desc().Len()
		dumps[run] = ir.Dump(st.Module())
		sources[run], err = codegen.Emit(st.Module())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to emit source", err)
		}
	}

	result := ReplayResult{
		Workload:      wl.Name,
		TraceID:       opts.ID,
		Steps:         steps,
		Deterministic: dumps[0] == dumps[1] && sources[0] == sources[1],
		Dump:          dumps[0],
	}
	if opts.Emit {
		result.Source = sources[0]
	}
	slog.Debug("trace replayed", "workload", wl.Name, "steps", steps, "deterministic", result.Deterministic)

	if opts.Format == "json" {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else {
		outputReplayText(w, result)
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, "replays differ")
	}
	return nil
}

// restorer returns a function that rebuilds the recorded schedule on a
// fresh module. Stored traces are checked against the session's workload.
// The second return releases whatever the restorer holds open.
func (o *ReplayOptions) restorer(ctx context.Context) (func(*ir.Module) (*search.State, error), func(), error) {
	if o.Trace != "" {
		t, err := readTraceFile(o.Trace)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		if o.ID, err = trace.TraceID(t); err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to hash trace", err)
		}
		restore := func(m *ir.Module) (*search.State, error) { return search.Restore(m, t) }
		return restore, func() {}, nil
	}

	st, err := store.Open(o.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	restore := func(m *ir.Module) (*search.State, error) {
		return st.RestoreState(ctx, o.Session, o.ID, m)
	}
	return restore, func() { st.Close() }, nil
}

func outputReplayText(w io.Writer, r ReplayResult) {
	fmt.Fprintf(w, "Workload: %s\n", r.Workload)
	fmt.Fprintf(w, "Trace: %s (%d steps)\n", r.TraceID, r.Steps)
	if r.Deterministic {
		fmt.Fprintln(w, "Deterministic: yes")
	} else {
		fmt.Fprintln(w, "Deterministic: NO")
	}
	fmt.Fprintf(w, "\n%s", r.Dump)
	if r.Source != "" {
		fmt.Fprintf(w, "\n%s", r.Source)
	}
}
