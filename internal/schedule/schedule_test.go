package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
)

func elementwise(t *testing.T, extents ...int64) *Schedule {
	t.Helper()
	names := []string{"i", "j", "k"}
	w := ir.Workload{Name: "ew"}
	st := ir.Stage{Name: "B", Op: ir.OpCopy}
	in := ir.Access{Tensor: "A"}
	for n, e := range extents {
		st.Axes = append(st.Axes, ir.Axis{Name: names[n], Extent: e})
		in.Axes = append(in.Axes, names[n])
	}
	st.Inputs = []ir.Access{in}
	w.Stages = []ir.Stage{st}

	m, err := ir.Build(w, nil)
	require.NoError(t, err)
	return New(m)
}

func TestGetBlockAndLoops(t *testing.T) {
	s := elementwise(t, 4, 8)

	blocks := s.GetAllBlocks()
	require.Len(t, blocks, 1)

	b, err := s.GetBlock("B")
	require.NoError(t, err)
	assert.Equal(t, blocks[0], b)

	loops, err := s.GetLoops(b)
	require.NoError(t, err)
	require.Len(t, loops, 2)
	f, _ := s.Module().AsFor(loops[1])
	assert.Equal(t, int64(8), f.Extent)

	byName, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	assert.Equal(t, loops, byName)

	_, err = s.GetBlock("missing")
	require.Error(t, err)
	assert.True(t, IsError(err))
	assert.Contains(t, err.Error(), `GetBlock: no block named "missing"`)

	_, err = s.GetLoops(loops[0])
	require.Error(t, err)
}

func TestFuse(t *testing.T) {
	s := elementwise(t, 4, 8)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	fused, err := s.Fuse(loops)
	require.NoError(t, err)

	want := `function fn_ew(A[4, 8], out B[4, 8])
{
  serial for (i_j_fused, 0, 32)
  {
    ScheduleBlock(B) [i = (i_j_fused / 8), j = (i_j_fused % 8)]
    {
      B[i, j] = A[i, j]
    }
  }
}
`
	assert.Equal(t, want, ir.Dump(s.Module()))

	after, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	assert.Equal(t, []ir.Expr{fused}, after)
}

func TestFuseThreeLoopsUsesModForMiddle(t *testing.T) {
	s := elementwise(t, 2, 3, 4)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	_, err = s.Fuse(loops)
	require.NoError(t, err)
	assert.Contains(t, ir.Dump(s.Module()),
		"ScheduleBlock(B) [i = (i_j_k_fused / 12), j = ((i_j_k_fused / 4) % 3), k = (i_j_k_fused % 4)]")
}

func TestFuseSingleLoopIsIdentity(t *testing.T) {
	s := elementwise(t, 16)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	before := ir.Dump(s.Module())

	fused, err := s.Fuse(loops)
	require.NoError(t, err)
	assert.Equal(t, loops[0], fused)
	assert.Equal(t, before, ir.Dump(s.Module()))
}

func TestFuseRejectsNonChain(t *testing.T) {
	s := elementwise(t, 4, 8)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	_, err = s.Fuse([]ir.Expr{loops[1], loops[0]})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not the only statement")

	_, err = s.Fuse(nil)
	require.Error(t, err)
}

func TestFuseByName(t *testing.T) {
	s := elementwise(t, 4, 8)

	_, err := s.FuseByName("B", []int{0, 1})
	require.NoError(t, err)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	assert.Len(t, loops, 1)

	_, err = s.FuseByName("B", []int{0, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestSplitExact(t *testing.T) {
	s := elementwise(t, 64)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	parts, err := s.Split(loops[0], []int64{-1, 16})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	want := `function fn_ew(A[64], out B[64])
{
  serial for (i_0, 0, 4)
  {
    serial for (i_1, 0, 16)
    {
      ScheduleBlock(B) [i = ((i_0 * 16) + i_1)]
      {
        B[i] = A[i]
      }
    }
  }
}
`
	assert.Equal(t, want, ir.Dump(s.Module()))
}

func TestSplitGuardsOverCoverage(t *testing.T) {
	s := elementwise(t, 10)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	parts, err := s.Split(loops[0], []int64{-1, 4})
	require.NoError(t, err)
	f, _ := s.Module().AsFor(parts[0])
	assert.Equal(t, int64(3), f.Extent)

	want := `function fn_ew(A[10], out B[10])
{
  serial for (i_0, 0, 3)
  {
    serial for (i_1, 0, 4)
    {
      if (((i_0 * 4) + i_1) < 10)
      {
        ScheduleBlock(B) [i = ((i_0 * 4) + i_1)]
        {
          B[i] = A[i]
        }
      }
    }
  }
}
`
	assert.Equal(t, want, ir.Dump(s.Module()))

	// The guarded block is still found with its loops.
	after, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	assert.Equal(t, parts, after)
}

func TestSplitRejectsBadFactors(t *testing.T) {
	tests := []struct {
		name    string
		factors []int64
		wantErr string
	}{
		{"empty", nil, "no factors"},
		{"two inferred", []int64{-1, -1}, "at most one factor"},
		{"zero", []int64{0, 4}, "must be positive"},
		{"under coverage", []int64{2, 4}, "cover 8 of 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := elementwise(t, 10)
			loops, err := s.GetLoopsByName("B")
			require.NoError(t, err)

			_, err = s.Split(loops[0], tt.factors)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReorder(t *testing.T) {
	s := elementwise(t, 4, 8, 2)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	require.NoError(t, s.Reorder([]ir.Expr{loops[2], loops[0], loops[1]}))

	after, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	assert.Equal(t, []ir.Expr{loops[2], loops[0], loops[1]}, after)
	assert.Contains(t, ir.Dump(s.Module()), "  serial for (k, 0, 2)\n  {\n    serial for (i, 0, 4)")
}

func TestReorderRejectsGaps(t *testing.T) {
	s := elementwise(t, 4, 8, 2)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	err = s.Reorder([]ir.Expr{loops[2], loops[0]})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perfectly nested chain")

	err = s.Reorder([]ir.Expr{loops[0], loops[0]})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "given twice")
}

func TestBind(t *testing.T) {
	s := elementwise(t, 4, 8)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	require.NoError(t, s.Bind(loops[0], "blockIdx.x"))
	require.NoError(t, s.Bind(loops[1], "threadIdx.x"))

	f, _ := s.Module().AsFor(loops[1])
	assert.True(t, f.IsGPUThreadBound())
	assert.Contains(t, ir.Dump(s.Module()), "gpu_block for (i, 0, 4) bind(blockIdx.x)")

	err = s.Bind(loops[0], "threadIdx.y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already gpu_block")

	err = s.Bind(loops[0], "warp.x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown dimension "warp.x"`)
}

func TestParallelAndUnroll(t *testing.T) {
	s := elementwise(t, 4, 8)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)

	require.NoError(t, s.Parallel(loops[0]))
	require.NoError(t, s.Unroll(loops[1]))
	dump := ir.Dump(s.Module())
	assert.Contains(t, dump, "parallel for (i, 0, 4)")
	assert.Contains(t, dump, "unroll for (j, 0, 8)")
}

func TestDetachedLoopIsRejected(t *testing.T) {
	s := elementwise(t, 4, 8)
	loops, err := s.GetLoopsByName("B")
	require.NoError(t, err)
	_, err = s.Fuse(loops)
	require.NoError(t, err)

	err = s.Bind(loops[0], "blockIdx.x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not part of the schedule")
}

func TestCloneIsolation(t *testing.T) {
	s := elementwise(t, 4, 8)
	before := ir.Dump(s.Module())

	c := s.Clone()
	loops, err := c.GetLoopsByName("B")
	require.NoError(t, err)
	_, err = c.Fuse(loops)
	require.NoError(t, err)

	assert.Equal(t, before, ir.Dump(s.Module()))
	assert.NotEqual(t, before, ir.Dump(c.Module()))
}
