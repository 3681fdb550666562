package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/testutil"
	"github.com/roach88/loopsched/internal/trace"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a session for a copy workload of the given extent.
func createTestSession(t *testing.T, s *Store, id string, extent int64) Session {
	t.Helper()
	m := testutil.MustBuild(t, testutil.CopyWorkload(extent))
	sess := Session{
		ID:           id,
		WorkloadName: "copy",
		WorkloadID:   trace.WorkloadID(ir.Dump(m)),
		Target:       "nvgpu",
		Rules:        []string{"auto_bind"},
	}
	seq, err := s.WriteSession(t.Context(), sess)
	require.NoError(t, err)
	sess.Seq = seq
	return sess
}

// splitTrace records GetLoopsWithName + Split on a copy workload and
// returns the exported trace.
func splitTrace(t *testing.T, extent int64, factors []int64) trace.Trace {
	t.Helper()
	st := search.New(testutil.MustBuild(t, testutil.CopyWorkload(extent)))
	loops, err := st.Traced().GetLoopsByName("B")
	require.NoError(t, err)
	_, err = st.Traced().Split(loops[0], factors)
	require.NoError(t, err)
	return st.Trace()
}

// verifyPragma checks that a pragma reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, want %q", name, value, expected)
	}
	return nil
}
