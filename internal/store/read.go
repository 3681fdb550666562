package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/loopsched/internal/trace"
)

// ReadTrace retrieves a trace by content ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) ReadTrace(ctx context.Context, id string) (trace.Trace, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM traces WHERE id = ?
		ORDER BY seq ASC, session_id COLLATE BINARY ASC
		LIMIT 1
	`, id).Scan(&body)
	if err != nil {
		return trace.Trace{}, fmt.Errorf("read trace %s: %w", id, err)
	}
	return unmarshalTrace(id, body)
}

// ReadSession retrieves a session by ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workload_name, workload_id, target, rules, seq
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns every session in seq order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workload_name, workload_id, target, rules, seq
		FROM sessions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListTraces returns the traces of a session in seq order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListTraces(ctx context.Context, sessionID string) ([]TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, root, steps, body
		FROM traces
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	entries := []TraceEntry{}
	for rows.Next() {
		var (
			e    TraceEntry
			body string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &e.Root, &e.Steps, &body); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		e.Trace, err = unmarshalTrace(e.ID, body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return entries, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess  Session
		rules string
	)
	if err := sc.Scan(&sess.ID, &sess.WorkloadName, &sess.WorkloadID, &sess.Target, &rules, &sess.Seq); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if rules != "" {
		sess.Rules = strings.Split(rules, ",")
	}
	return sess, nil
}
