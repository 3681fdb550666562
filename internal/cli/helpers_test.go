package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const workloadsCUE = `
workload: rowsum: {
	function: "row_sum"
	stages: [{
		name: "C", op: "sum"
		axes: [{name: "i", extent: 16}, {name: "k", extent: 8, reduce: true}]
		inputs: [{tensor: "A", axes: ["i", "k"]}]
	}]
}

workload: copy: stages: [{
	name: "B", op: "copy"
	axes: [{name: "i", extent: 2048}]
	inputs: [{tensor: "A", axes: ["i"]}]
}]
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeWorkloads(t *testing.T) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "workloads.cue", workloadsCUE)
}

// execute runs the root command with args and an absent config file, so
// the user's own config never leaks into a test.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}
