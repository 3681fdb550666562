package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/loopsched/internal/autogen"
	"github.com/roach88/loopsched/internal/codegen"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/target"
	"github.com/roach88/loopsched/internal/trace"
)

// DefaultSessionID is used when a scenario does not fix one.
const DefaultSessionID = "test-session-default"

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Resolve and build the workload
//  2. Write the session
//  3. Explore the root state with the scenario's rules
//  4. Write every leaf trace and emit its source
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	w, err := scenario.ResolveWorkload()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workload: %w", err)
	}
	build := func() (*ir.Module, error) { return ir.Build(*w, nil) }
	m, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to build workload: %w", err)
	}

	tgt := target.DefaultNVGPU()
	if scenario.Target != nil {
		tgt = *scenario.Target
	}

	sessionID := scenario.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	sessionID = search.NewFixedGenerator(sessionID).Generate()

	_, err = st.WriteSession(ctx, store.Session{
		ID:           sessionID,
		WorkloadName: w.Name,
		WorkloadID:   trace.WorkloadID(ir.Dump(m)),
		Target:       tgt.String(),
		Rules:        scenario.Rules,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write session: %w", err)
	}

	explored, err := autogen.Explore(ctx, []*search.State{search.New(m)}, scenario.Rules,
		autogen.WithTarget(tgt), autogen.WithWorkers(1))
	if err != nil {
		return nil, fmt.Errorf("failed to explore: %w", err)
	}

	result := NewResult()
	result.SessionID = sessionID
	result.Discarded = explored.Discarded
	for i, leaf := range explored.Leaves {
		tr := leaf.State.Trace()
		id, err := st.WriteTrace(ctx, sessionID, int64(i+1), leaf.Root, tr)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: failed to write trace: %w", i, err)
		}
		src, err := codegen.Emit(leaf.State.Module())
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		result.Leaves = append(result.Leaves, LeafResult{
			Root:    leaf.Root,
			TraceID: id,
			Trace:   tr,
			Dump:    ir.Dump(leaf.State.Module()),
			Source:  src,
		})
	}
	slog.Debug("scenario explored", "scenario", scenario.Name, "leaves", len(result.Leaves), "discarded", result.Discarded)

	actx := &AssertionContext{
		Ctx:       ctx,
		Store:     st,
		SessionID: sessionID,
		Build:     build,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}
