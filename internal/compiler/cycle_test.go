package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
)

func stage(name string, reads ...string) ir.Stage {
	s := ir.Stage{Name: name, Op: ir.OpCopy, Axes: []ir.Axis{{Name: "i", Extent: 8}}}
	if len(reads) == 2 {
		s.Op = ir.OpAdd
	}
	for _, r := range reads {
		s.Inputs = append(s.Inputs, ir.Access{Tensor: r, Axes: []string{"i"}})
	}
	return s
}

func TestAnalyzeCycles_Acyclic(t *testing.T) {
	w := ir.Workload{Name: "chain", Stages: []ir.Stage{
		stage("B", "A"),
		stage("C", "B", "A"),
	}}
	cycles := AnalyzeCycles(w)
	assert.NotNil(t, cycles)
	assert.Empty(t, cycles)
}

func TestAnalyzeCycles_TwoStages(t *testing.T) {
	w := ir.Workload{Name: "loop", Stages: []ir.Stage{
		stage("B", "C"),
		stage("C", "B"),
	}}
	cycles := AnalyzeCycles(w)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"B", "C", "B"}, cycles[0].Path)
	assert.Equal(t, "stage cycle: B → C → B", cycles[0].Message)
}

func TestAnalyzeCycles_ThreeStagesDeterministic(t *testing.T) {
	w := ir.Workload{Name: "ring", Stages: []ir.Stage{
		stage("X", "A"),
		stage("B", "D"),
		stage("C", "B"),
		stage("D", "C"),
	}}
	for i := 0; i < 5; i++ {
		cycles := AnalyzeCycles(w)
		require.Len(t, cycles, 1)
		assert.Equal(t, []string{"B", "D", "C", "B"}, cycles[0].Path)
	}
}

func TestAnalyzeCycles_IgnoresSelfRead(t *testing.T) {
	w := ir.Workload{Name: "self", Stages: []ir.Stage{stage("B", "B")}}
	assert.Empty(t, AnalyzeCycles(w))
}
