package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/trace"
)

// ErrWorkloadMismatch is returned when a stored trace is restored against a
// module that is not the session's starting IR.
var ErrWorkloadMismatch = errors.New("workload does not match session")

// RestoreState rebuilds the search state a stored trace describes. m must be
// a fresh build of the session's workload; it is mutated by the replay.
func (s *Store) RestoreState(ctx context.Context, sessionID, traceID string, m *ir.Module, opts ...trace.Option) (*search.State, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	if got := trace.WorkloadID(ir.Dump(m)); got != sess.WorkloadID {
		return nil, fmt.Errorf("restore state: %w: session %s wants %s, module is %s",
			ErrWorkloadMismatch, sessionID, sess.WorkloadID, got)
	}

	var body string
	err = s.db.QueryRowContext(ctx, `
		SELECT body FROM traces WHERE session_id = ? AND id = ?
	`, sessionID, traceID).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("restore state: trace %s: %w", traceID, err)
	}
	t, err := unmarshalTrace(traceID, body)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}

	st, err := search.Restore(m, t, opts...)
	if err != nil {
		return nil, err
	}
	slog.Debug("state restored", "session", sessionID, "trace", traceID, "steps", len(t.Steps))
	return st, nil
}
