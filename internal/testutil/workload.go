// Package testutil provides deterministic workload fixtures for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
)

var axisNames = []string{"i", "j", "k", "l"}

// CopyWorkload returns a single-stage workload B = A over one spatial axis
// per extent, named i, j, k, l in order.
func CopyWorkload(extents ...int64) ir.Workload {
	st := ir.Stage{Name: "B", Op: ir.OpCopy}
	in := ir.Access{Tensor: "A"}
	for n, e := range extents {
		st.Axes = append(st.Axes, ir.Axis{Name: axisNames[n], Extent: e})
		in.Axes = append(in.Axes, axisNames[n])
	}
	st.Inputs = []ir.Access{in}
	return ir.Workload{Name: "copy", Stages: []ir.Stage{st}}
}

// RowSumWorkload returns C[i] = sum over k of A[i, k]. The reduction axis
// is flagged explicitly rather than named with the reduce prefix.
func RowSumWorkload(rows, cols int64) ir.Workload {
	return ir.Workload{
		Name: "rowsum",
		Stages: []ir.Stage{{
			Name: "C",
			Op:   ir.OpSum,
			Axes: []ir.Axis{
				{Name: "i", Extent: rows},
				{Name: "k", Extent: cols, Reduce: true},
			},
			Inputs: []ir.Access{{Tensor: "A", Axes: []string{"i", "k"}}},
		}},
	}
}

// TwoStageWorkload returns B = A followed by C = B + A over one axis.
func TwoStageWorkload(extent int64) ir.Workload {
	return ir.Workload{
		Name: "chain",
		Stages: []ir.Stage{
			{
				Name:   "B",
				Op:     ir.OpCopy,
				Axes:   []ir.Axis{{Name: "i", Extent: extent}},
				Inputs: []ir.Access{{Tensor: "A", Axes: []string{"i"}}},
			},
			{
				Name: "C",
				Op:   ir.OpAdd,
				Axes: []ir.Axis{{Name: "i", Extent: extent}},
				Inputs: []ir.Access{
					{Tensor: "B", Axes: []string{"i"}},
					{Tensor: "A", Axes: []string{"i"}},
				},
			},
		},
	}
}

// MustBuild lowers w with a fresh name context, failing the test on error.
func MustBuild(t testing.TB, w ir.Workload) *ir.Module {
	t.Helper()
	m, err := ir.Build(w, nil)
	require.NoError(t, err)
	return m
}
