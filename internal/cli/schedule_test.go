package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

func TestScheduleText(t *testing.T) {
	out, err := execute(t, "schedule", "--workload", writeWorkloads(t), "--name", "rowsum", "--emit")
	require.NoError(t, err)

	assert.Contains(t, out, "Workload: rowsum on nvgpu(threads=1024, blocks=256)")
	assert.Contains(t, out, "Rules: [auto_bind]")
	assert.Contains(t, out, "Leaves: 1 (0 discarded)")
	assert.Contains(t, out, "1. GetBlock")
	assert.Contains(t, out, "__global__ void row_sum(")
	assert.NotContains(t, out, "Session:")
}

func TestScheduleJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "schedule", "--workload", writeWorkloads(t), "--name", "copy")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ScheduleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "copy", resp.Data.Workload)
	require.Len(t, resp.Data.Leaves, 1)
	assert.Equal(t, []string{"GetBlock", "GetLoops", "Fuse", "Split", "Bind", "Bind"}, resp.Data.Leaves[0].Steps)
	assert.Empty(t, resp.Data.Leaves[0].Source, "source only with --emit")
}

func TestScheduleWritesTraceFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rowsum.json")
	_, err := execute(t, "schedule", "--workload", writeWorkloads(t), "--name", "rowsum", "--out", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	tr, err := trace.ParseTrace(data)
	require.NoError(t, err)
	assert.Len(t, tr.Steps, 8)

	canonical, err := tr.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(data), "trace files are written canonically")
}

func TestScheduleStoresSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "loopsched.db")
	opts := &ScheduleOptions{
		RootOptions: &RootOptions{Format: "text"},
		Workload:    writeWorkloads(t),
		Name:        "rowsum",
		Database:    db,
		IDs:         search.NewFixedGenerator("session-1"),
	}
	buf := &bytes.Buffer{}
	require.NoError(t, runSchedule(context.Background(), opts, buf))
	assert.Contains(t, buf.String(), "Session: session-1")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.ReadSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "rowsum", sess.WorkloadName)
	assert.Equal(t, []string{"auto_bind"}, sess.Rules)

	entries, err := st.ListTraces(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, 8, entries[0].Steps)
}

func TestScheduleErrors(t *testing.T) {
	workloads := writeWorkloads(t)
	tests := []struct {
		name    string
		args    []string
		code    int
		wantErr string
	}{
		{"missing workload flag", []string{"schedule"}, ExitFailure, `required flag(s) "workload" not set`},
		{"missing file", []string{"schedule", "--workload", "/nonexistent/w.cue"}, ExitCommandError, "workload path not found"},
		{"ambiguous name", []string{"schedule", "--workload", workloads}, ExitCommandError, "defines 2 workloads"},
		{"unknown rule", []string{"schedule", "--workload", workloads, "--name", "copy", "--rule", "auto_inline"}, ExitCommandError, `unknown rule "auto_inline"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
