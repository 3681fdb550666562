package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/testutil"
)

func TestRestoreState_ReplaysStoredTrace(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestSession(t, s, "s1", 32)

	orig := search.New(testutil.MustBuild(t, testutil.CopyWorkload(32)))
	loops, err := orig.Traced().GetLoopsByName("B")
	require.NoError(t, err)
	_, err = orig.Traced().Split(loops[0], []int64{4, 8})
	require.NoError(t, err)

	id, err := s.WriteTrace(ctx, "s1", 1, 0, orig.Trace())
	require.NoError(t, err)

	st, err := s.RestoreState(ctx, "s1", id, testutil.MustBuild(t, testutil.CopyWorkload(32)))
	require.NoError(t, err)
	assert.Equal(t, ir.Dump(orig.Module()), ir.Dump(st.Module()))
	assert.Equal(t, orig.Desc().Len(), st.Desc().Len())
}

func TestRestoreState_WorkloadMismatch(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestSession(t, s, "s1", 32)

	id, err := s.WriteTrace(ctx, "s1", 1, 0, splitTrace(t, 32, []int64{4, 8}))
	require.NoError(t, err)

	_, err = s.RestoreState(ctx, "s1", id, testutil.MustBuild(t, testutil.CopyWorkload(64)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkloadMismatch)
}

func TestRestoreState_UnknownTrace(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "s1", 32)

	_, err := s.RestoreState(t.Context(), "s1", "missing", testutil.MustBuild(t, testutil.CopyWorkload(32)))
	assert.Error(t, err)
}
