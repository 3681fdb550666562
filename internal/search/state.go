// Package search holds the unit of schedule exploration: a live schedule
// paired with the descriptor recording how it was derived.
//
// A State has a single owner. Rules branch a state by copying it; a copy
// shares no expression handle, step list or name table with its source, so
// distinct states may be handed to distinct goroutines.
package search

import (
	"fmt"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/schedule"
	"github.com/roach88/loopsched/internal/trace"
)

// State is one node of a schedule search.
type State struct {
	sched *schedule.Schedule
	desc  *trace.Desc
}

// New creates a state over m with an empty descriptor. The state takes
// ownership of m.
func New(m *ir.Module, opts ...trace.Option) *State {
	return &State{sched: schedule.New(m), desc: trace.NewDesc(opts...)}
}

// Restore rebuilds a state by replaying t against m, so that exploration
// can continue from a stored trace.
func Restore(m *ir.Module, t trace.Trace, opts ...trace.Option) (*State, error) {
	sched := schedule.New(m)
	desc, err := trace.ReplayTrace(t, sched, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return &State{sched: sched, desc: desc}, nil
}

// Copy returns an independent state. The module is deep-cloned and the
// descriptor's name table is rebased onto the clone.
func (s *State) Copy() *State {
	sched := s.sched.Clone()
	return &State{sched: sched, desc: s.desc.Copy(sched.Module().Rebase)}
}

// Schedule gives read access to the schedule for applicability queries.
// Mutations must go through Traced.
func (s *State) Schedule() *schedule.Schedule { return s.sched }

// Module is shorthand for Schedule().Module().
func (s *State) Module() *ir.Module { return s.sched.Module() }

// Desc returns the descriptor.
func (s *State) Desc() *trace.Desc { return s.desc }

// Traced returns a recorder over the state. Every primitive applied
// through it is appended to the state's descriptor.
func (s *State) Traced() *trace.Traced { return trace.NewTraced(s.sched, s.desc) }

// Trace exports the descriptor.
func (s *State) Trace() trace.Trace { return s.desc.Export() }
