package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTrace_RoundTripPreservesCanonicalBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestSession(t, s, "s1", 32)

	tr := splitTrace(t, 32, []int64{4, -1})
	id, err := s.WriteTrace(ctx, "s1", 1, 0, tr)
	require.NoError(t, err)

	got, err := s.ReadTrace(ctx, id)
	require.NoError(t, err)

	want, err := tr.MarshalCanonical()
	require.NoError(t, err)
	have, err := got.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(have))
}

func TestReadTrace_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadTrace(t.Context(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReadTrace_DetectsTamperedBody(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestSession(t, s, "s1", 32)

	id, err := s.WriteTrace(ctx, "s1", 1, 0, splitTrace(t, 32, []int64{4, 8}))
	require.NoError(t, err)

	other, err := splitTrace(t, 32, []int64{8, 4}).MarshalCanonical()
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE traces SET body = ? WHERE id = ?", string(other), id)
	require.NoError(t, err)

	_, err = s.ReadTrace(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body hashes to")
}

func TestReadSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadSession(t.Context(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListSessions_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	empty, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	createTestSession(t, s, "zeta", 32)
	createTestSession(t, s, "alpha", 32)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "zeta", sessions[0].ID)
	assert.Equal(t, "alpha", sessions[1].ID)
}

func TestListTraces_OrderedBySeqThenID(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestSession(t, s, "s1", 32)

	late, err := s.WriteTrace(ctx, "s1", 2, 1, splitTrace(t, 32, []int64{2, 16}))
	require.NoError(t, err)
	a, err := s.WriteTrace(ctx, "s1", 1, 0, splitTrace(t, 32, []int64{4, 8}))
	require.NoError(t, err)
	b, err := s.WriteTrace(ctx, "s1", 1, 0, splitTrace(t, 32, []int64{8, 4}))
	require.NoError(t, err)

	first, second := a, b
	if b < a {
		first, second = b, a
	}

	entries, err := s.ListTraces(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{first, second, late}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, 1, entries[2].Root)

	none, err := s.ListTraces(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
