package store

import (
	"fmt"

	"github.com/roach88/loopsched/internal/trace"
)

// marshalTrace converts a trace to canonical JSON TEXT and its content ID.
// Uses RFC 8785 canonical JSON so the ID is stable across processes.
func marshalTrace(t trace.Trace) (body string, id string, err error) {
	data, err := t.MarshalCanonical()
	if err != nil {
		return "", "", fmt.Errorf("marshal trace: %w", err)
	}
	id, err = trace.TraceID(t)
	if err != nil {
		return "", "", fmt.Errorf("marshal trace: %w", err)
	}
	return string(data), id, nil
}

// unmarshalTrace parses a stored body and checks it still hashes to id.
func unmarshalTrace(id, body string) (trace.Trace, error) {
	t, err := trace.ParseTrace([]byte(body))
	if err != nil {
		return trace.Trace{}, fmt.Errorf("unmarshal trace %s: %w", id, err)
	}
	got, err := trace.TraceID(t)
	if err != nil {
		return trace.Trace{}, fmt.Errorf("unmarshal trace %s: %w", id, err)
	}
	if got != id {
		return trace.Trace{}, fmt.Errorf("unmarshal trace %s: body hashes to %s", id, got)
	}
	return t, nil
}
