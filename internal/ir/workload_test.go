package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyWorkload() Workload {
	return Workload{
		Name: "copy",
		Stages: []Stage{{
			Name:   "B",
			Op:     OpCopy,
			Axes:   []Axis{{Name: "i", Extent: 32}, {Name: "j", Extent: 64}},
			Inputs: []Access{{Tensor: "A", Axes: []string{"i", "j"}}},
		}},
	}
}

func sumWorkload() Workload {
	return Workload{
		Name: "rowsum",
		Stages: []Stage{{
			Name:   "C",
			Op:     OpSum,
			Axes:   []Axis{{Name: "i", Extent: 16}, {Name: "reduce_k", Extent: 8}},
			Inputs: []Access{{Tensor: "A", Axes: []string{"i", "reduce_k"}}},
		}},
	}
}

func TestBuildCopy(t *testing.T) {
	m, err := Build(copyWorkload(), nil)
	require.NoError(t, err)

	want := `function fn_copy(A[32, 64], out B[32, 64])
{
  serial for (i, 0, 32)
  {
    serial for (j, 0, 64)
    {
      ScheduleBlock(B) [i = i, j = j]
      {
        B[i, j] = A[i, j]
      }
    }
  }
}
`
	assert.Equal(t, want, Dump(m))
}

func TestBuildReductionAddsInitBlock(t *testing.T) {
	m, err := Build(sumWorkload(), nil)
	require.NoError(t, err)

	want := `function fn_rowsum(A[16, 8], out C[16])
{
  serial for (i, 0, 16)
  {
    ScheduleBlock(C__reduce_init) [i = i]
    {
      C[i] = 0
    }
  }
  serial for (i_1, 0, 16)
  {
    serial for (reduce_k, 0, 8)
    {
      ScheduleBlock(C) [i = i_1, reduce reduce_k = reduce_k]
      {
        C[i] = (C[i] + A[i, reduce_k])
      }
    }
  }
}
`
	assert.Equal(t, want, Dump(m))
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(sumWorkload(), NewNameContext())
	require.NoError(t, err)
	b, err := Build(sumWorkload(), NewNameContext())
	require.NoError(t, err)

	assert.Equal(t, Dump(a), Dump(b))
}

func TestBuildFunctionName(t *testing.T) {
	w := copyWorkload()
	w.Function = "kernel"

	m, err := Build(w, nil)
	require.NoError(t, err)
	require.Len(t, m.Funcs(), 1)
	assert.Equal(t, "kernel", m.Funcs()[0].Name)
}

func TestBuildChainedStagesOrdersArgs(t *testing.T) {
	w := Workload{
		Name: "chain",
		Stages: []Stage{
			{
				Name:   "T",
				Op:     OpAdd,
				Axes:   []Axis{{Name: "i", Extent: 4}},
				Inputs: []Access{{Tensor: "X", Axes: []string{"i"}}, {Tensor: "Y", Axes: []string{"i"}}},
			},
			{
				Name:   "Z",
				Op:     OpMul,
				Axes:   []Axis{{Name: "i", Extent: 4}},
				Inputs: []Access{{Tensor: "T", Axes: []string{"i"}}, {Tensor: "X", Axes: []string{"i"}}},
			},
		},
	}

	m, err := Build(w, nil)
	require.NoError(t, err)

	var names []string
	var outputs []bool
	for _, a := range m.Funcs()[0].Args {
		names = append(names, a.Name)
		outputs = append(outputs, a.Output)
	}
	assert.Equal(t, []string{"X", "Y", "T", "Z"}, names)
	assert.Equal(t, []bool{false, false, true, true}, outputs)
}

func TestWorkloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *Workload)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(w *Workload) { w.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "no stages",
			mutate:  func(w *Workload) { w.Stages = nil },
			wantErr: "at least one stage",
		},
		{
			name:    "unknown op",
			mutate:  func(w *Workload) { w.Stages[0].Op = "conv" },
			wantErr: `unknown op "conv"`,
		},
		{
			name:    "wrong input count",
			mutate:  func(w *Workload) { w.Stages[0].Op = OpAdd },
			wantErr: "takes 2 inputs, got 1",
		},
		{
			name:    "non-positive extent",
			mutate:  func(w *Workload) { w.Stages[0].Axes[1].Extent = 0 },
			wantErr: "extent must be positive",
		},
		{
			name:    "unknown axis",
			mutate:  func(w *Workload) { w.Stages[0].Inputs[0].Axes = []string{"i", "k"} },
			wantErr: `unknown axis "k"`,
		},
		{
			name: "reduce axis on elementwise op",
			mutate: func(w *Workload) {
				w.Stages[0].Axes[1] = Axis{Name: "reduce_j", Extent: 64}
				w.Stages[0].Inputs[0].Axes = []string{"i", "reduce_j"}
			},
			wantErr: "does not take reduce axes",
		},
		{
			name:    "reduction without reduce axis",
			mutate:  func(w *Workload) { w.Stages[0].Op = OpSum },
			wantErr: "needs at least one reduce axis",
		},
		{
			name: "duplicate stage",
			mutate: func(w *Workload) {
				w.Stages = append(w.Stages, w.Stages[0])
			},
			wantErr: `duplicate stage "B"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := copyWorkload()
			tt.mutate(&w)
			err := w.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAxisIsReduce(t *testing.T) {
	assert.True(t, Axis{Name: "k", Reduce: true}.IsReduce())
	assert.True(t, Axis{Name: "reduce_k"}.IsReduce())
	assert.False(t, Axis{Name: "k"}.IsReduce())
}
