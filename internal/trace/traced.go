package trace

import (
	"fmt"
	"log/slog"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/schedule"
)

// Traced applies primitives to a schedule through the step-kind registry
// and records every application in a descriptor.
//
// Scheduling logic mutates schedules only through Traced, so every change
// it makes is replayable.
type Traced struct {
	sch  *schedule.Schedule
	desc *Desc
}

// NewTraced pairs a schedule with the descriptor recording it.
func NewTraced(sch *schedule.Schedule, desc *Desc) *Traced {
	return &Traced{sch: sch, desc: desc}
}

// Schedule returns the live schedule.
func (t *Traced) Schedule() *schedule.Schedule { return t.sch }

// Desc returns the descriptor.
func (t *Traced) Desc() *Desc { return t.desc }

// Apply runs the registered operation kind with the given inputs and
// attributes and records it. Nothing is recorded when the primitive fails.
func (t *Traced) Apply(kind string, inputs map[string][]ir.Expr, attrs map[string]Value) ([]ir.Expr, error) {
	k, err := t.desc.reg.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = map[string][]ir.Expr{}
	}
	if attrs == nil {
		attrs = map[string]Value{}
	}
	step := Step{Kind: kind, Inputs: inputs, Attrs: attrs}
	if err := t.desc.check(k, step, false); err != nil {
		return nil, err
	}

	outs, err := k.Invoke(t.sch, Args{step: &step})
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", kind, err)
	}
	step.Outputs = outs
	names, err := t.desc.Append(step)
	if err != nil {
		return nil, err
	}
	slog.Debug("step recorded", "kind", kind, "index", t.desc.Len()-1, "outputs", names)
	return outs, nil
}

func (t *Traced) one(kind string, inputs map[string][]ir.Expr, attrs map[string]Value) (ir.Expr, error) {
	outs, err := t.Apply(kind, inputs, attrs)
	if err != nil {
		return ir.Expr{}, err
	}
	return outs[0], nil
}

// GetAllBlocks records and returns every block of the schedule.
func (t *Traced) GetAllBlocks() ([]ir.Expr, error) {
	return t.Apply("GetAllBlocks", nil, nil)
}

// GetBlock records and returns the named block.
func (t *Traced) GetBlock(name string) (ir.Expr, error) {
	return t.one("GetBlock", nil, map[string]Value{"block_name": String(name)})
}

// GetLoops records and returns the loops enclosing block.
func (t *Traced) GetLoops(block ir.Expr) ([]ir.Expr, error) {
	return t.Apply("GetLoops", map[string][]ir.Expr{"block": {block}}, nil)
}

// GetLoopsByName records and returns the loops enclosing the named block.
func (t *Traced) GetLoopsByName(block string) ([]ir.Expr, error) {
	return t.Apply("GetLoopsWithName", nil, map[string]Value{"block_name": String(block)})
}

// Fuse records a fuse of loops and returns the fused loop.
func (t *Traced) Fuse(loops []ir.Expr) (ir.Expr, error) {
	return t.one("Fuse", map[string][]ir.Expr{"loops": loops}, nil)
}

// FuseByName records a fuse of the named block's loops at indices.
func (t *Traced) FuseByName(block string, indices []int) (ir.Expr, error) {
	idx := make(Ints, len(indices))
	for i, v := range indices {
		idx[i] = int64(v)
	}
	return t.one("FuseWithBlockName", nil, map[string]Value{
		"block_name":  String(block),
		"loops_index": idx,
	})
}

// Split records a split of loop and returns the new loops, outermost first.
func (t *Traced) Split(loop ir.Expr, factors []int64) ([]ir.Expr, error) {
	return t.Apply("Split", map[string][]ir.Expr{"loop": {loop}}, map[string]Value{"factors": Ints(factors)})
}

// Reorder records a reorder of loops.
func (t *Traced) Reorder(loops []ir.Expr) error {
	_, err := t.Apply("Reorder", map[string][]ir.Expr{"loops": loops}, nil)
	return err
}

// Bind records binding loop to a hardware dimension.
func (t *Traced) Bind(loop ir.Expr, dim string) error {
	_, err := t.Apply("Bind", map[string][]ir.Expr{"loop": {loop}}, map[string]Value{"thread_axis": String(dim)})
	return err
}

// Parallel records marking loop parallel.
func (t *Traced) Parallel(loop ir.Expr) error {
	_, err := t.Apply("Parallel", map[string][]ir.Expr{"loop": {loop}}, nil)
	return err
}

// Unroll records marking loop unrolled.
func (t *Traced) Unroll(loop ir.Expr) error {
	_, err := t.Apply("Unroll", map[string][]ir.Expr{"loop": {loop}}, nil)
	return err
}

// ReplayTrace imports t and replays it against sch, returning the resumed
// descriptor so further steps can be recorded on top of it.
func ReplayTrace(t Trace, sch *schedule.Schedule, opts ...Option) (*Desc, error) {
	d, err := Import(t, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Resume(sch); err != nil {
		return nil, err
	}
	return d, nil
}
