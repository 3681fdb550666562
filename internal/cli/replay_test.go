package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

// scheduleToFile schedules a workload and returns the trace file path.
func scheduleToFile(t *testing.T, workloads, name string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), name+".json")
	_, err := execute(t, "schedule", "--workload", workloads, "--name", name, "--out", out)
	require.NoError(t, err)
	return out
}

func TestReplayFromFile(t *testing.T) {
	workloads := writeWorkloads(t)
	tracePath := scheduleToFile(t, workloads, "rowsum")

	out, err := execute(t, "replay", "--workload", workloads, "--name", "rowsum", "--trace", tracePath, "--emit")
	require.NoError(t, err)
	assert.Contains(t, out, "Deterministic: yes")
	assert.Contains(t, out, "(8 steps)")
	assert.Contains(t, out, "bind(threadIdx.x)")
	assert.Contains(t, out, "__global__ void row_sum(")

	tr, err := readTraceFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, out, trace.MustTraceID(tr))
}

func TestReplayFromStore(t *testing.T) {
	workloads := writeWorkloads(t)
	db := filepath.Join(t.TempDir(), "loopsched.db")
	sopts := &ScheduleOptions{
		RootOptions: &RootOptions{Format: "text"},
		Workload:    workloads,
		Name:        "copy",
		Database:    db,
		IDs:         search.NewFixedGenerator("s1"),
	}
	require.NoError(t, runSchedule(context.Background(), sopts, &bytes.Buffer{}))
	tr, err := readTraceFile(scheduleToFile(t, workloads, "copy"))
	require.NoError(t, err)

	out, err := execute(t, "replay", "--workload", workloads, "--name", "copy",
		"--db", db, "--session", "s1", "--id", trace.MustTraceID(tr))
	require.NoError(t, err)
	assert.Contains(t, out, "Deterministic: yes")
	assert.Contains(t, out, "gpu_block for")
}

func TestReplayAgainstOtherWorkload(t *testing.T) {
	workloads := writeWorkloads(t)
	tracePath := scheduleToFile(t, workloads, "rowsum")

	_, err := execute(t, "replay", "--workload", workloads, "--name", "copy", "--trace", tracePath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "replay 1 failed")
}

func TestReplayStoreWorkloadMismatch(t *testing.T) {
	workloads := writeWorkloads(t)
	db := filepath.Join(t.TempDir(), "loopsched.db")
	sopts := &ScheduleOptions{
		RootOptions: &RootOptions{Format: "text"},
		Workload:    workloads,
		Name:        "rowsum",
		Database:    db,
		IDs:         search.NewFixedGenerator("s1"),
	}
	require.NoError(t, runSchedule(context.Background(), sopts, &bytes.Buffer{}))
	tr, err := readTraceFile(scheduleToFile(t, workloads, "rowsum"))
	require.NoError(t, err)

	_, err = execute(t, "replay", "--workload", workloads, "--name", "copy",
		"--db", db, "--session", "s1", "--id", trace.MustTraceID(tr))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrWorkloadMismatch)
}

func TestReplayFlagGroups(t *testing.T) {
	workloads := writeWorkloads(t)

	_, err := execute(t, "replay", "--workload", workloads, "--name", "copy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of the flags in the group [trace db] is required")

	_, err = execute(t, "replay", "--workload", workloads, "--name", "copy", "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "if any flags in the group [db session id] are set they must all be set")
}
