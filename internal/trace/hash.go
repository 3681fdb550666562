package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTrace    = "loopsched/trace/v1"
	DomainWorkload = "loopsched/workload/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TraceID computes the content-addressed ID of a trace. Two traces have the
// same ID iff their canonical encodings are identical.
func TraceID(t Trace) (string, error) {
	canonical, err := t.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("TraceID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// WorkloadID computes the content-addressed ID of a dumped starting IR, so
// a stored trace can be matched with the IR it must be replayed against.
func WorkloadID(dump string) string {
	return hashWithDomain(DomainWorkload, []byte(dump))
}

// MustTraceID is like TraceID but panics on error.
// Use only in tests or when the trace is known to be valid.
func MustTraceID(t Trace) string {
	id, err := TraceID(t)
	if err != nil {
		panic(err)
	}
	return id
}
