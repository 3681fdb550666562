package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/schedule"
	"github.com/roach88/loopsched/internal/testutil"
)

func TestEmit_SerialNest(t *testing.T) {
	m := testutil.MustBuild(t, testutil.CopyWorkload(4, 8))
	src, err := Emit(m)
	require.NoError(t, err)

	want := `__global__ void fn_copy(const float* __restrict__ A, float* __restrict__ B)
{
  for (int32_t i = 0; i < 4; i += 1)
  {
    for (int32_t j = 0; j < 8; j += 1)
    {
      {
        B[((i * 8) + j)] = A[((i * 8) + j)];
      }
    }
  }
}
`
	assert.Equal(t, want, src)
}

func TestEmit_BoundLoopSubstitutesIterValues(t *testing.T) {
	sch := schedule.New(testutil.MustBuild(t, testutil.CopyWorkload(4, 8)))
	loops, err := sch.GetLoopsByName("B")
	require.NoError(t, err)
	fused, err := sch.Fuse(loops)
	require.NoError(t, err)
	require.NoError(t, sch.Bind(fused, "threadIdx.x"))

	src, err := Emit(sch.Module())
	require.NoError(t, err)

	want := `__global__ void fn_copy(const float* __restrict__ A, float* __restrict__ B)
{
  if (threadIdx.x < 32)
  {
    int32_t i_j_fused = threadIdx.x;
    {
      {
        B[(((i_j_fused / 8) * 8) + (i_j_fused % 8))] = A[(((i_j_fused / 8) * 8) + (i_j_fused % 8))];
      }
    }
  }
}
`
	assert.Equal(t, want, src)
}

func TestEmit_ReductionAndPragmas(t *testing.T) {
	sch := schedule.New(testutil.MustBuild(t, testutil.RowSumWorkload(2, 3)))
	loops, err := sch.GetLoopsByName("C")
	require.NoError(t, err)
	require.NoError(t, sch.Parallel(loops[0]))
	require.NoError(t, sch.Unroll(loops[1]))

	src, err := Emit(sch.Module())
	require.NoError(t, err)
	assert.Contains(t, src, "C[i] = 0.0f;")
	assert.Contains(t, src, "#pragma omp parallel for\n  for (int32_t i_1 = 0; i_1 < 2; i_1 += 1)")
	assert.Contains(t, src, "#pragma unroll\n")
	assert.Contains(t, src, "C[i_1] = (C[i_1] + A[((i_1 * 3) + k)]);")
}

func TestEmit_Deterministic(t *testing.T) {
	a, err := Emit(testutil.MustBuild(t, testutil.TwoStageWorkload(16)))
	require.NoError(t, err)
	b, err := Emit(testutil.MustBuild(t, testutil.TwoStageWorkload(16)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmit_RejectsUnknownTensor(t *testing.T) {
	m := ir.NewModule(nil)
	i := m.Var("i", false)
	body := m.Block(m.For(i, 4, m.Block(m.Store("Z", m.Int(0), i))))
	require.NoError(t, m.AddFunc("bad", []ir.Arg{{Name: "A", Shape: []int64{4}}}, body))

	_, err := Emit(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tensor "Z"`)
}

func TestFloatLiteral(t *testing.T) {
	assert.Equal(t, "0.0f", floatLiteral(0))
	assert.Equal(t, "1.5f", floatLiteral(1.5))
	assert.Equal(t, "1e-07f", floatLiteral(1e-7))
}
