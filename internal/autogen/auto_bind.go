package autogen

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/target"
	"github.com/roach88/loopsched/internal/trace"
)

// AutoBindName is the registered name of the GPU binding rule.
const AutoBindName = "auto_bind"

const (
	blockDim  = "blockIdx.x"
	threadDim = "threadIdx.x"
)

func init() {
	register(AutoBindName, func(t target.Target) Rule { return NewAutoBind(t) })
}

// IsSpatialLoop reports whether loop is a serial loop whose variable no
// reduction iteration variable depends on, directly or through the
// iteration variable bindings of enclosing schedule blocks. A schedule
// block iteration variable is a reduction axis when flagged as one or when
// its name starts with ir.ReducePrefix; variables are matched by handle or
// by name.
func IsSpatialLoop(m *ir.Module, loop ir.Expr) bool {
	f, ok := m.AsFor(loop)
	if !ok || f.Type != ir.Serial {
		return false
	}
	loopVar, _ := m.AsVar(f.Var)
	return !reducesOver(m, f.Body, dependents{}.with(f.Var, loopVar.Name))
}

// dependents is the set of variables derived from a loop variable.
type dependents struct {
	vars  map[ir.Expr]bool
	names map[string]bool
}

func (d dependents) with(v ir.Expr, name string) dependents {
	out := dependents{
		vars:  make(map[ir.Expr]bool, len(d.vars)+1),
		names: make(map[string]bool, len(d.names)+1),
	}
	for k := range d.vars {
		out.vars[k] = true
	}
	for k := range d.names {
		out.names[k] = true
	}
	out.vars[v] = true
	out.names[name] = true
	return out
}

func (d dependents) usedBy(m *ir.Module, expr ir.Expr) bool {
	found := false
	m.Walk(expr, func(e ir.Expr) bool {
		if found {
			return false
		}
		if n, ok := m.AsVar(e); ok && (d.vars[e] || d.names[n.Name]) {
			found = true
		}
		return !found
	})
	return found
}

// reducesOver reports whether a schedule block under root binds a reduction
// iteration variable to an expression over deps. Each block's iteration
// variables bound over deps join the set for the blocks nested inside it.
func reducesOver(m *ir.Module, root ir.Expr, deps dependents) bool {
	found := false
	m.Walk(root, func(e ir.Expr) bool {
		if found {
			return false
		}
		r, ok := m.AsRealize(e)
		if !ok {
			return true
		}
		sb, ok := m.AsScheduleBlock(r.ScheduleBlock)
		if !ok || len(sb.IterVars) != len(r.IterValues) {
			return true
		}
		inner := deps
		for i, iv := range sb.IterVars {
			if !deps.usedBy(m, r.IterValues[i]) {
				continue
			}
			v, _ := m.AsVar(iv)
			if v.Reduce || strings.HasPrefix(v.Name, ir.ReducePrefix) {
				found = true
				return false
			}
			inner = inner.with(iv, v.Name)
		}
		found = reducesOver(m, sb.Body, inner)
		return false
	})
	return found
}

// CountLoopCanBind counts the consecutive spatial, unbound loops from loop
// downward. Counting descends only through bodies holding a single loop.
//
// A loop whose body is not a statement block is reported as a malformed
// nest, together with the count up to it.
func CountLoopCanBind(m *ir.Module, loop ir.Expr) (int, error) {
	n := 0
	for cur := loop; ; {
		f, ok := m.AsFor(cur)
		if !ok || f.IsBound() || !IsSpatialLoop(m, cur) {
			return n, nil
		}
		n++

		stmts, ok := m.AsBlock(f.Body)
		if !ok {
			v, _ := m.AsVar(f.Var)
			return n, malformed("body of loop %s is a %s, want a block", v.Name, m.Kind(f.Body))
		}
		if len(stmts) != 1 {
			return n, nil
		}
		cur = stmts[0]
	}
}

// BindGPUIndex binds the outer n loops of block to blockIdx.x and
// threadIdx.x. The loops are fused first; the fused loop is then bound to
// blocks when a thread loop already follows it, bound to threads when it
// fits in maxThreads, split into blocks and threads when it fits in
// maxBlocks*maxThreads, and otherwise split three ways with the remainder
// reordered innermost and left serial.
//
// Every primitive goes through tr and is recorded.
func BindGPUIndex(tr *trace.Traced, block ir.Expr, n, maxBlocks, maxThreads int) error {
	m := tr.Schedule().Module()
	loops, err := tr.GetLoops(block)
	if err != nil {
		return err
	}
	if n <= 0 || n > len(loops) {
		return malformed("cannot bind %d of %d loops", n, len(loops))
	}
	threadBound := false
	if n < len(loops) {
		next, _ := m.AsFor(loops[n])
		threadBound = next.IsGPUThreadBound()
	}

	fused, err := tr.Fuse(loops[:n])
	if err != nil {
		return err
	}
	if threadBound {
		return tr.Bind(fused, blockDim)
	}

	f, _ := m.AsFor(fused)
	extent := f.Extent
	threads, blocks := int64(maxThreads), int64(maxBlocks)
	slog.Debug("binding fused loop", "loops", n, "extent", extent, "max_threads", threads, "max_blocks", blocks)

	switch {
	case extent <= threads:
		return tr.Bind(fused, threadDim)

	case extent <= blocks*threads:
		parts, err := tr.Split(fused, []int64{-1, threads})
		if err != nil {
			return err
		}
		if err := tr.Bind(parts[0], blockDim); err != nil {
			return err
		}
		return tr.Bind(parts[1], threadDim)

	default:
		parts, err := tr.Split(fused, []int64{-1, blocks, threads})
		if err != nil {
			return err
		}
		if err := tr.Reorder([]ir.Expr{parts[1], parts[2], parts[0]}); err != nil {
			return err
		}
		if err := tr.Bind(parts[1], blockDim); err != nil {
			return err
		}
		return tr.Bind(parts[2], threadDim)
	}
}

// AutoBind binds the outer spatial loops of each schedule block to GPU
// blocks and threads.
type AutoBind struct {
	target target.Target

	state  *search.State
	blocks []string // applicable block names from the last Init
}

// NewAutoBind creates the binding rule for t. Block counts are capped at
// t.MaxBlocks and thread counts at t.MaxThreads.
func NewAutoBind(t target.Target) *AutoBind {
	return &AutoBind{target: t}
}

// Name returns "auto_bind".
func (a *AutoBind) Name() string { return AutoBindName }

// Init caches every block whose outermost loop starts a bindable prefix.
func (a *AutoBind) Init(s *search.State) ApplyType {
	a.state = s
	a.blocks = a.blocks[:0]
	for _, b := range s.Schedule().GetAllBlocks() {
		name, _ := s.Module().BlockName(b)
		if a.bindable(s, b) > 0 {
			a.blocks = append(a.blocks, name)
		}
	}
	slog.Debug("rule initialized", "rule", AutoBindName, "applicable", len(a.blocks))
	if len(a.blocks) == 0 {
		return CannotApply
	}
	return ApplyAndPruneOtherRules
}

// NumApplicable returns the number of occurrences cached by Init.
func (a *AutoBind) NumApplicable() int { return len(a.blocks) }

// Apply binds the loops of the index-th cached block of the state passed
// to Init. A nest that is no longer bindable fails before any step is
// recorded; a primitive failing midway leaves the steps before it recorded,
// and the state must then be discarded.
func (a *AutoBind) Apply(index int) error {
	if a.state == nil || index < 0 || index >= len(a.blocks) {
		return &RuleError{
			Code:    ErrCodeInvalidOccurrenceIndex,
			Message: fmt.Sprintf("invalid apply index %d, have %d occurrences", index, len(a.blocks)),
			Rule:    AutoBindName,
		}
	}
	return a.bindBlock(a.state, a.blocks[index])
}

// AnalyseApplyType reports whether the named block of s has a bindable
// loop.
func (a *AutoBind) AnalyseApplyType(s *search.State, block string) ApplyType {
	b, err := s.Schedule().GetBlock(block)
	if err != nil {
		return CannotApply
	}
	if a.bindable(s, b) > 0 {
		return ApplyAndPruneOtherRules
	}
	return CannotApply
}

// ApplyOnBlock binds the named block's loops on a copy of s. s is left
// untouched.
func (a *AutoBind) ApplyOnBlock(s *search.State, block string) ([]*search.State, error) {
	next := s.Copy()
	if err := a.bindBlock(next, block); err != nil {
		return nil, err
	}
	return []*search.State{next}, nil
}

// bindable counts the bindable loops of a block, treating a malformed nest
// as not applicable.
func (a *AutoBind) bindable(s *search.State, block ir.Expr) int {
	loops, err := s.Schedule().GetLoops(block)
	if err != nil || len(loops) == 0 {
		return 0
	}
	n, err := CountLoopCanBind(s.Module(), loops[0])
	if err != nil {
		slog.Debug("loop nest not bindable", "rule", AutoBindName, "error", err)
		return 0
	}
	return n
}

// bindBlock checks the block's nest before recording anything, so a nest
// that cannot be bound leaves the descriptor untouched.
func (a *AutoBind) bindBlock(s *search.State, name string) error {
	block, err := s.Schedule().GetBlock(name)
	if err != nil {
		return a.wrap(name, err)
	}
	loops, err := s.Schedule().GetLoops(block)
	if err != nil {
		return a.wrap(name, err)
	}
	if len(loops) == 0 {
		return a.wrap(name, malformed("block has no enclosing loop"))
	}
	n, err := CountLoopCanBind(s.Module(), loops[0])
	if err != nil {
		return a.wrap(name, err)
	}
	if n == 0 {
		return a.wrap(name, malformed("outermost loop is not bindable"))
	}
	tr := s.Traced()
	if block, err = tr.GetBlock(name); err != nil {
		return a.wrap(name, err)
	}
	if err := BindGPUIndex(tr, block, n, a.target.MaxBlocks, a.target.MaxThreads); err != nil {
		return a.wrap(name, err)
	}
	slog.Debug("rule applied", "rule", AutoBindName, "block", name, "loops", n, "steps", s.Desc().Len())
	return nil
}

func (a *AutoBind) wrap(block string, err error) error {
	var re *RuleError
	if errors.As(err, &re) {
		re.Rule = AutoBindName
		re.Block = block
		return err
	}
	return fmt.Errorf("%s block %s: %w", AutoBindName, block, err)
}
