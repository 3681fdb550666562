package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/target"
)

func copyScenario(extent int64, assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "copy",
		Description: "copy",
		Workload: &ir.Workload{
			Name: "copy",
			Stages: []ir.Stage{{
				Name:   "B",
				Op:     ir.OpCopy,
				Axes:   []ir.Axis{{Name: "i", Extent: extent}},
				Inputs: []ir.Access{{Tensor: "A", Axes: []string{"i"}}},
			}},
		},
		Target:     &target.Target{Name: "small", MaxThreads: 32, MaxBlocks: 4},
		Rules:      []string{"auto_bind"},
		Assertions: assertions,
	}
}

func TestRun_InlineScenarioPasses(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/bind_thread_only.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, DefaultSessionID, result.SessionID)
	require.Len(t, result.Leaves, 1)

	leaf := result.Leaves[0]
	assert.Equal(t, 0, leaf.Root)
	assert.NotEmpty(t, leaf.TraceID)
	assert.Equal(t, []string{"GetBlock", "GetLoops", "Fuse", "Bind"}, leaf.StepTypes())
	assert.Contains(t, leaf.Dump, "bind(threadIdx.x)")
	assert.Contains(t, leaf.Source, "__global__ void fn_copy(")
}

func TestRun_SpecScenarioPasses(t *testing.T) {
	for _, name := range []string{"rowsum_from_cue", "chain_default_target"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_FixedSessionID(t *testing.T) {
	s := copyScenario(8, Assertion{Type: AssertLeafCount, Count: 1})
	s.SessionID = "pinned"

	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, "pinned", result.SessionID)
}

func TestRun_FailedAssertionsAreCollected(t *testing.T) {
	s := copyScenario(8,
		Assertion{Type: AssertLeafCount, Count: 2},
		Assertion{Type: AssertTraceCount, Step: "Split", Count: 1},
		Assertion{Type: AssertReplayIdentical},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertions[0]:")
	assert.Contains(t, result.Errors[0], "2 leaves")
	assert.Contains(t, result.Errors[1], "assertions[1]:")
	assert.Contains(t, result.Errors[1], "Split × 0")
}

func TestRun_TracesAreDeterministic(t *testing.T) {
	a, err := Run(copyScenario(129, Assertion{Type: AssertLeafCount, Count: 1}))
	require.NoError(t, err)
	b, err := Run(copyScenario(129, Assertion{Type: AssertLeafCount, Count: 1}))
	require.NoError(t, err)

	assert.Equal(t, a.Leaves[0].TraceID, b.Leaves[0].TraceID)
	assert.Equal(t, a.Leaves[0].Source, b.Leaves[0].Source)
}

func TestRun_UnknownRule(t *testing.T) {
	s := copyScenario(8, Assertion{Type: AssertLeafCount, Count: 1})
	s.Rules = []string{"auto_inline"}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown rule "auto_inline"`)
}
