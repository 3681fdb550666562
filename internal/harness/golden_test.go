package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_BindingThresholds(t *testing.T) {
	for _, name := range []string{"bind_thread_only", "bind_block_thread", "bind_split_reorder"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/bind_split_reorder.yaml")
	require.NoError(t, err)

	a, err := Run(s)
	require.NoError(t, err)
	b, err := Run(s)
	require.NoError(t, err)

	da, err := MarshalSnapshot(s.Name, a)
	require.NoError(t, err)
	db, err := MarshalSnapshot(s.Name, b)
	require.NoError(t, err)
	assert.Equal(t, string(da), string(db))
	assert.Contains(t, string(da), `"type":"Reorder"`)
}
