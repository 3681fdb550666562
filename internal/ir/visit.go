package ir

// children returns the defined child handles of n in a fixed order.
func children(n *node) []Expr {
	out := make([]Expr, 0, 2+len(n.list))
	if n.x.Defined() {
		out = append(out, n.x)
	}
	if n.y.Defined() {
		out = append(out, n.y)
	}
	return append(out, n.list...)
}

// Walk visits every node reachable from root in pre-order, each node once.
// Returning false from fn skips the node's children.
func (m *Module) Walk(root Expr, fn func(Expr) bool) {
	seen := make(map[Expr]bool)
	var visit func(e Expr)
	visit = func(e Expr) {
		n := m.node(e)
		if n == nil || seen[e] {
			return
		}
		seen[e] = true
		if !fn(e) {
			return
		}
		for _, c := range children(n) {
			visit(c)
		}
	}
	visit(root)
}

// Collect returns every node reachable from root that satisfies pred, in
// pre-order.
func (m *Module) Collect(root Expr, pred func(Expr) bool) []Expr {
	var out []Expr
	m.Walk(root, func(e Expr) bool {
		if pred(e) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// PathTo returns the chain of nodes from a function body down to target,
// target included. Returns nil if target is not reachable.
func (m *Module) PathTo(target Expr) []Expr {
	for _, f := range m.funcs {
		if path := m.pathFrom(f.Body, target, make(map[Expr]bool)); path != nil {
			return path
		}
	}
	return nil
}

func (m *Module) pathFrom(cur, target Expr, seen map[Expr]bool) []Expr {
	if cur == target {
		return []Expr{cur}
	}
	n := m.node(cur)
	if n == nil || seen[cur] {
		return nil
	}
	seen[cur] = true
	// Only statements can contain a statement; skip scalar expressions.
	switch n.kind {
	case KindFor, KindBlock, KindIfThenElse, KindScheduleBlock, KindScheduleBlockRealize:
	default:
		return nil
	}
	for _, c := range children(n) {
		if sub := m.pathFrom(c, target, seen); sub != nil {
			return append([]Expr{cur}, sub...)
		}
	}
	return nil
}

// Substitute rewrites, in place, every reference to from that is reachable
// from root so that it points at to. Nodes are shared, so every holder of a
// handle inside root observes the change.
func (m *Module) Substitute(root, from, to Expr) {
	seen := make(map[Expr]bool)
	var visit func(e Expr)
	visit = func(e Expr) {
		n := m.node(e)
		if n == nil || seen[e] {
			return
		}
		seen[e] = true
		if n.x == from {
			n.x = to
		} else {
			visit(n.x)
		}
		if n.y == from {
			n.y = to
		} else {
			visit(n.y)
		}
		for i, c := range n.list {
			if c == from {
				n.list[i] = to
			} else {
				visit(c)
			}
		}
	}
	visit(root)
}

// Replace swaps old for replacement wherever it is referenced from a
// function body, including as the body itself.
func (m *Module) Replace(old, replacement Expr) {
	for i := range m.funcs {
		if m.funcs[i].Body == old {
			m.funcs[i].Body = replacement
			continue
		}
		m.Substitute(m.funcs[i].Body, old, replacement)
	}
}
