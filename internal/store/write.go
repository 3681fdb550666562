package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/loopsched/internal/trace"
)

// Session is one scheduling run: a workload explored under a target with a
// fixed rule list.
type Session struct {
	ID           string
	WorkloadName string
	// WorkloadID is trace.WorkloadID of the starting IR dump.
	WorkloadID string
	Target     string
	Rules      []string
	// Seq is assigned by WriteSession.
	Seq int64
}

// TraceEntry is a stored trace with its position in a session.
type TraceEntry struct {
	ID        string
	SessionID string
	Seq       int64
	// Root is the index of the root state the trace was explored from.
	Root  int
	Steps int
	Trace trace.Trace
}

// WriteSession inserts a session and returns its seq.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing an existing
// session returns the seq it was first given.
func (s *Store) WriteSession(ctx context.Context, sess Session) (int64, error) {
	if sess.ID == "" {
		return 0, fmt.Errorf("write session: id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, workload_name, workload_id, target, rules, seq)
		SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM sessions WHERE 1
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.WorkloadName,
		sess.WorkloadID,
		sess.Target,
		strings.Join(sess.Rules, ","),
	)
	if err != nil {
		return 0, fmt.Errorf("write session: insert: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM sessions WHERE id = ?`, sess.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write session: select seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write session: commit: %w", err)
	}
	slog.Debug("session written", "id", sess.ID, "seq", seq)
	return seq, nil
}

// WriteTrace stores t under sessionID and returns its content ID.
// Uses ON CONFLICT DO NOTHING for idempotency: the same trace written twice
// to a session keeps its first seq.
//
// Note: The session must exist (foreign key constraint).
func (s *Store) WriteTrace(ctx context.Context, sessionID string, seq int64, root int, t trace.Trace) (string, error) {
	body, id, err := marshalTrace(t)
	if err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (id, session_id, seq, root, steps, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id,
		sessionID,
		seq,
		root,
		len(t.Steps),
		body,
	)
	if err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	return id, nil
}
