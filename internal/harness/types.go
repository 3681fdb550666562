package harness

import "github.com/roach88/loopsched/internal/trace"

// LeafResult is one leaf state produced by exploring a scenario.
type LeafResult struct {
	Root    int         `json:"root"`
	TraceID string      `json:"trace_id"`
	Trace   trace.Trace `json:"trace"`

	// Dump and Source are the leaf's IR dump and emitted source.
	Dump   string `json:"-"`
	Source string `json:"-"`
}

// StepTypes returns the kinds of the leaf's recorded steps in order.
func (l LeafResult) StepTypes() []string {
	out := make([]string, len(l.Trace.Steps))
	for i, r := range l.Trace.Steps {
		out[i] = r.Type
	}
	return out
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every assertion matched.
	Pass bool `json:"pass"`

	SessionID string       `json:"session_id"`
	Leaves    []LeafResult `json:"leaves"`
	Discarded int          `json:"discarded"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Leaves: []LeafResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
