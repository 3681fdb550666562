package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/loopsched/internal/autogen"
	"github.com/roach88/loopsched/internal/codegen"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Workload string
	Name     string
	Rules    []string
	Out      string
	Database string
	Emit     bool

	// IDs generates session IDs. Defaults to UUIDv7.
	IDs search.IDGenerator
}

// ScheduleLeaf is one explored schedule.
type ScheduleLeaf struct {
	TraceID string   `json:"trace_id"`
	Steps   []string `json:"steps"`
	Source  string   `json:"source,omitempty"`
}

// ScheduleResult holds the schedule command output.
type ScheduleResult struct {
	Workload  string         `json:"workload"`
	Target    string         `json:"target"`
	Rules     []string       `json:"rules"`
	SessionID string         `json:"session_id,omitempty"`
	Leaves    []ScheduleLeaf `json:"leaves"`
	Discarded int            `json:"discarded"`
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Explore schedules for a workload",
		Long: `Build the loop IR of a CUE workload and explore it with the generation rules.

Every transformation is recorded. The first leaf's trace can be written to a
file with --out; with --db every leaf trace is stored under a new session.

Rules default to the config file's rules, then to auto_bind.

Examples:
  loopsched schedule --workload ./workloads.cue --name rowsum
  loopsched schedule --workload ./workloads.cue --name rowsum --out rowsum.json --emit
  loopsched schedule --workload ./workloads.cue --name rowsum --db ./loopsched.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Workload, "workload", "", "CUE workload file or directory (required)")
	_ = cmd.MarkFlagRequired("workload")
	cmd.Flags().StringVar(&opts.Name, "name", "", "workload name (optional for single-workload files)")
	cmd.Flags().StringSliceVar(&opts.Rules, "rule", nil, "generation rule, in priority order (repeatable)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the first leaf's trace to this file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "store traces in this SQLite database")
	cmd.Flags().BoolVar(&opts.Emit, "emit", false, "include emitted source")

	return cmd
}

func (o *ScheduleOptions) rules() []string {
	if len(o.Rules) > 0 {
		return o.Rules
	}
	if len(o.Config.Rules) > 0 {
		return o.Config.Rules
	}
	return []string{"auto_bind"}
}

func runSchedule(ctx context.Context, opts *ScheduleOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wl, err := loadWorkload(opts.Workload, opts.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workload", err)
	}
	m, err := ir.Build(*wl, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build workload", err)
	}

	tgt := opts.Config.Target()
	rules := opts.rules()
	explored, err := autogen.Explore(ctx, []*search.State{search.New(m)}, rules,
		autogen.WithTarget(tgt),
		autogen.WithWorkers(opts.Config.WorkersOr(autogen.DefaultWorkers)),
		autogen.WithMaxStates(opts.Config.MaxStatesOr(autogen.DefaultMaxStates)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to explore", err)
	}
	if len(explored.Leaves) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no schedule survived (%d discarded)", explored.Discarded))
	}

	result := ScheduleResult{
		Workload:  wl.Name,
		Target:    tgt.String(),
		Rules:     rules,
		Leaves:    make([]ScheduleLeaf, 0, len(explored.Leaves)),
		Discarded: explored.Discarded,
	}
	traces := make([]trace.Trace, len(explored.Leaves))
	for i, leaf := range explored.Leaves {
		traces[i] = leaf.State.Trace()
		id, err := trace.TraceID(traces[i])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to hash trace", err)
		}
		sl := ScheduleLeaf{TraceID: id, Steps: stepTypes(traces[i])}
		if opts.Emit {
			sl.Source, err = codegen.Emit(leaf.State.Module())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to emit source", err)
			}
		}
		result.Leaves = append(result.Leaves, sl)
	}

	if opts.Out != "" {
		if err := writeTraceFile(opts.Out, traces[0]); err != nil {
			return WrapExitError(ExitCommandError, "failed to write trace", err)
		}
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config.StorePath
	}
	if dbPath != "" {
		ids := opts.IDs
		if ids == nil {
			ids = search.UUIDv7Generator{}
		}
		result.SessionID, err = storeLeaves(ctx, dbPath, ids.Generate(), ir.Dump(m), result, traces, explored.Leaves)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to store traces", err)
		}
	}

	slog.Info("schedule explored", "workload", wl.Name, "leaves", len(result.Leaves), "discarded", result.Discarded)

	if opts.Format == "json" {
		return writeJSON(w, result)
	}
	return outputScheduleText(w, result)
}

func storeLeaves(ctx context.Context, path, sessionID, dump string, result ScheduleResult, traces []trace.Trace, leaves []autogen.Leaf) (string, error) {
	st, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer st.Close()

	if _, err := st.WriteSession(ctx, store.Session{
		ID:           sessionID,
		WorkloadName: result.Workload,
		WorkloadID:   trace.WorkloadID(dump),
		Target:       result.Target,
		Rules:        result.Rules,
	}); err != nil {
		return "", err
	}
	for i, t := range traces {
		if _, err := st.WriteTrace(ctx, sessionID, int64(i+1), leaves[i].Root, t); err != nil {
			return "", err
		}
	}
	return sessionID, nil
}

func outputScheduleText(w io.Writer, r ScheduleResult) error {
	fmt.Fprintf(w, "Workload: %s on %s\n", r.Workload, r.Target)
	fmt.Fprintf(w, "Rules: %v\n", r.Rules)
	if r.SessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", r.SessionID)
	}
	fmt.Fprintf(w, "Leaves: %d (%d discarded)\n", len(r.Leaves), r.Discarded)
	for i, l := range r.Leaves {
		fmt.Fprintf(w, "\n[%d] %s\n", i, l.TraceID)
		for j, s := range l.Steps {
			fmt.Fprintf(w, "  %2d. %s\n", j+1, s)
		}
		if l.Source != "" {
			fmt.Fprintf(w, "\n%s", l.Source)
		}
	}
	return nil
}

func stepTypes(t trace.Trace) []string {
	out := make([]string, len(t.Steps))
	for i, r := range t.Steps {
		out[i] = r.Type
	}
	return out
}
