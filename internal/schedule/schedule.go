// Package schedule implements the loop transformation primitives applied
// to an ir.Module: block and loop lookup, fuse, split, reorder and binding.
//
// Primitives rewrite the module in place. Loop handles returned by one
// primitive stay valid for later primitives on the same schedule; handles
// consumed by Fuse or Split are detached from the tree.
//
// Schedule is not safe for concurrent use. Clone it for another goroutine.
package schedule

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/loopsched/internal/ir"
)

// Hardware dimensions accepted by Bind.
var bindDims = map[string]ir.ForType{
	"blockIdx.x":  ir.GPUBlock,
	"blockIdx.y":  ir.GPUBlock,
	"blockIdx.z":  ir.GPUBlock,
	"threadIdx.x": ir.GPUThread,
	"threadIdx.y": ir.GPUThread,
	"threadIdx.z": ir.GPUThread,
}

// Schedule wraps a module under transformation.
type Schedule struct {
	m *ir.Module
}

// New creates a schedule over m. The schedule takes ownership of m.
func New(m *ir.Module) *Schedule {
	return &Schedule{m: m}
}

// Module returns the module being scheduled.
func (s *Schedule) Module() *ir.Module { return s.m }

// Clone deep-copies the schedule. No handle is shared with the original.
func (s *Schedule) Clone() *Schedule {
	return &Schedule{m: s.m.Clone()}
}

// GetAllBlocks returns every schedule block realize in pre-order.
func (s *Schedule) GetAllBlocks() []ir.Expr {
	var out []ir.Expr
	for _, f := range s.m.Funcs() {
		out = append(out, s.m.Collect(f.Body, func(e ir.Expr) bool {
			return s.m.Kind(e) == ir.KindScheduleBlockRealize
		})...)
	}
	return out
}

// GetBlock returns the first block realize with the given name.
func (s *Schedule) GetBlock(name string) (ir.Expr, error) {
	for _, b := range s.GetAllBlocks() {
		if n, _ := s.m.BlockName(b); n == name {
			return b, nil
		}
	}
	return ir.Expr{}, errorf("GetBlock", "no block named %q", name)
}

// GetLoops returns the loops enclosing block, outermost first.
func (s *Schedule) GetLoops(block ir.Expr) ([]ir.Expr, error) {
	if s.m.Kind(block) != ir.KindScheduleBlockRealize {
		return nil, errorf("GetLoops", "expected a block, got %s", s.m.Kind(block))
	}
	path := s.m.PathTo(block)
	if path == nil {
		return nil, errorf("GetLoops", "block is not reachable from any function")
	}
	var loops []ir.Expr
	for _, e := range path {
		if s.m.Kind(e) == ir.KindFor {
			loops = append(loops, e)
		}
	}
	return loops, nil
}

// GetLoopsByName returns the loops enclosing the named block.
func (s *Schedule) GetLoopsByName(block string) ([]ir.Expr, error) {
	b, err := s.GetBlock(block)
	if err != nil {
		return nil, err
	}
	return s.GetLoops(b)
}

// onlyChild returns the loop nested directly in loop's body, if the body
// holds nothing else.
func (s *Schedule) onlyChild(loop ir.Expr) (ir.Expr, bool) {
	f, ok := s.m.AsFor(loop)
	if !ok {
		return ir.Expr{}, false
	}
	body := f.Body
	if stmts, ok := s.m.AsBlock(body); ok {
		if len(stmts) != 1 {
			return ir.Expr{}, false
		}
		body = stmts[0]
	}
	if s.m.Kind(body) != ir.KindFor {
		return ir.Expr{}, false
	}
	return body, true
}

// serialLoop returns the view of loop, failing unless it is an attached
// serial loop.
func (s *Schedule) serialLoop(op string, loop ir.Expr) (ir.ForNode, error) {
	f, ok := s.m.AsFor(loop)
	if !ok {
		return ir.ForNode{}, errorf(op, "expected a loop, got %s", s.m.Kind(loop))
	}
	if f.Type != ir.Serial {
		return ir.ForNode{}, errorf(op, "loop %s is already %s", s.varName(f.Var), f.Type)
	}
	if s.m.PathTo(loop) == nil {
		return ir.ForNode{}, errorf(op, "loop %s is not part of the schedule", s.varName(f.Var))
	}
	return f, nil
}

func (s *Schedule) varName(v ir.Expr) string {
	n, _ := s.m.AsVar(v)
	return n.Name
}

// Fuse merges a perfectly nested chain of loops, outermost first, into one
// loop whose extent is the product of theirs.
func (s *Schedule) Fuse(loops []ir.Expr) (ir.Expr, error) {
	const op = "Fuse"
	if len(loops) == 0 {
		return ir.Expr{}, errorf(op, "no loops given")
	}
	fors := make([]ir.ForNode, len(loops))
	for i, l := range loops {
		f, err := s.serialLoop(op, l)
		if err != nil {
			return ir.Expr{}, err
		}
		fors[i] = f
		if i > 0 {
			if child, ok := s.onlyChild(loops[i-1]); !ok || child != l {
				return ir.Expr{}, errorf(op, "loop %s is not the only statement of loop %s",
					s.varName(f.Var), s.varName(fors[i-1].Var))
			}
		}
	}
	if len(loops) == 1 {
		return loops[0], nil
	}

	names := make([]string, len(fors))
	extent := int64(1)
	for i, f := range fors {
		names[i] = s.varName(f.Var)
		extent *= f.Extent
	}
	fused := s.m.Var(s.m.Names().Fresh(strings.Join(names, "_")+"_fused"), false)
	body := fors[len(fors)-1].Body

	stride := extent
	for i, f := range fors {
		stride /= f.Extent
		var idx ir.Expr
		switch {
		case i == 0:
			idx = s.m.Div(fused, s.m.Int(stride))
		case i == len(fors)-1:
			idx = s.m.Mod(fused, s.m.Int(f.Extent))
		default:
			idx = s.m.Mod(s.m.Div(fused, s.m.Int(stride)), s.m.Int(f.Extent))
		}
		s.m.Substitute(body, f.Var, idx)
	}

	loop := s.m.For(fused, extent, body)
	s.m.Replace(loops[0], loop)
	return loop, nil
}

// FuseByName fuses the loops of the named block at the given positions.
func (s *Schedule) FuseByName(block string, indices []int) (ir.Expr, error) {
	loops, err := s.GetLoopsByName(block)
	if err != nil {
		return ir.Expr{}, err
	}
	picked := make([]ir.Expr, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(loops) {
			return ir.Expr{}, errorf("Fuse", "loop index %d out of range [0, %d)", idx, len(loops))
		}
		picked[i] = loops[idx]
	}
	return s.Fuse(picked)
}

// Split divides loop into nested loops with the given extents, outermost
// first. At most one factor may be -1; it is inferred as the ceiling of the
// remaining extent. When the factors cover more iterations than the loop
// has, the body is guarded by a bounds check.
func (s *Schedule) Split(loop ir.Expr, factors []int64) ([]ir.Expr, error) {
	const op = "Split"
	f, err := s.serialLoop(op, loop)
	if err != nil {
		return nil, err
	}
	if len(factors) == 0 {
		return nil, errorf(op, "no factors given")
	}

	resolved := slices.Clone(factors)
	infer := -1
	known := int64(1)
	for i, fac := range factors {
		switch {
		case fac == -1 && infer == -1:
			infer = i
		case fac == -1:
			return nil, errorf(op, "at most one factor may be -1, got %v", factors)
		case fac <= 0:
			return nil, errorf(op, "factor %d must be positive or -1, got %d", i, fac)
		default:
			known *= fac
		}
	}
	if infer >= 0 {
		resolved[infer] = (f.Extent + known - 1) / known
		known *= resolved[infer]
	}
	if known < f.Extent {
		return nil, errorf(op, "factors %v cover %d of %d iterations", factors, known, f.Extent)
	}

	base := s.varName(f.Var)
	vars := make([]ir.Expr, len(resolved))
	for i := range resolved {
		vars[i] = s.m.Var(s.m.Names().Fresh(base+"_"+strconv.Itoa(i)), false)
	}
	// ((v0 * f1 + v1) * f2 + v2) ...
	sum := vars[0]
	for i := 1; i < len(vars); i++ {
		sum = s.m.Add(s.m.Mul(sum, s.m.Int(resolved[i])), vars[i])
	}

	body := f.Body
	s.m.Substitute(body, f.Var, sum)
	if known > f.Extent {
		body = s.m.Block(s.m.IfThenElse(s.m.LT(sum, s.m.Int(f.Extent)), body))
	}

	out := make([]ir.Expr, len(vars))
	for i := len(vars) - 1; i >= 0; i-- {
		out[i] = s.m.For(vars[i], resolved[i], body)
		body = s.m.Block(out[i])
	}
	s.m.Replace(loop, out[0])
	return out, nil
}

// Reorder rearranges a perfectly nested chain of loops so that loops[0] is
// outermost. The loops must be exactly the members of one chain.
func (s *Schedule) Reorder(loops []ir.Expr) error {
	const op = "Reorder"
	if len(loops) == 0 {
		return errorf(op, "no loops given")
	}
	members := make(map[ir.Expr]bool, len(loops))
	top, depth := ir.Expr{}, -1
	for _, l := range loops {
		f, ok := s.m.AsFor(l)
		if !ok {
			return errorf(op, "expected a loop, got %s", s.m.Kind(l))
		}
		if members[l] {
			return errorf(op, "loop %s given twice", s.varName(f.Var))
		}
		members[l] = true
		path := s.m.PathTo(l)
		if path == nil {
			return errorf(op, "loop %s is not part of the schedule", s.varName(f.Var))
		}
		if depth == -1 || len(path) < depth {
			top, depth = l, len(path)
		}
	}

	chain := []ir.Expr{top}
	for len(chain) < len(loops) {
		child, ok := s.onlyChild(chain[len(chain)-1])
		if !ok || !members[child] {
			return errorf(op, "loops do not form one perfectly nested chain")
		}
		chain = append(chain, child)
	}

	bottom, _ := s.m.AsFor(chain[len(chain)-1])
	inner := bottom.Body
	for i := 0; i < len(loops)-1; i++ {
		if err := s.m.SetForBody(loops[i], s.m.Block(loops[i+1])); err != nil {
			return errorf(op, "%v", err)
		}
	}
	if err := s.m.SetForBody(loops[len(loops)-1], inner); err != nil {
		return errorf(op, "%v", err)
	}
	if top != loops[0] {
		s.m.Replace(top, loops[0])
	}
	return nil
}

// Bind maps loop onto a hardware dimension such as "blockIdx.x".
func (s *Schedule) Bind(loop ir.Expr, dim string) error {
	t, ok := bindDims[dim]
	if !ok {
		return errorf("Bind", "unknown dimension %q", dim)
	}
	if _, err := s.serialLoop("Bind", loop); err != nil {
		return err
	}
	return s.m.SetForType(loop, t, dim)
}

// Parallel marks loop for CPU parallel execution.
func (s *Schedule) Parallel(loop ir.Expr) error {
	if _, err := s.serialLoop("Parallel", loop); err != nil {
		return err
	}
	return s.m.SetForType(loop, ir.Parallel, "")
}

// Unroll marks loop for unrolling.
func (s *Schedule) Unroll(loop ir.Expr) error {
	if _, err := s.serialLoop("Unroll", loop); err != nil {
		return err
	}
	return s.m.SetForType(loop, ir.Unrolled, "")
}
