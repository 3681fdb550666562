package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/loopsched/internal/trace"
)

// TraceSnapshot captures the leaf traces of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Leaves       []LeafResult `json:"leaves"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for
// canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() (map[string]any, error) {
	leaves := make([]any, len(s.Leaves))
	for i, l := range s.Leaves {
		tree, err := l.Trace.Tree()
		if err != nil {
			return nil, err
		}
		leaves[i] = map[string]any{
			"root":  int64(l.Root),
			"trace": tree,
		}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"leaves":        leaves,
	}, nil
}

// MarshalSnapshot returns the canonical golden-file bytes for a result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Leaves: result.Leaves}
	m, err := snapshot.toCanonicalMap()
	if err != nil {
		return nil, err
	}
	return trace.MarshalCanonical(m)
}

// RunWithGolden executes a scenario and compares its leaf traces against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the traces don't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
