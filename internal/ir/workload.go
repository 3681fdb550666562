package ir

import (
	"fmt"
	"strings"
)

// Op is the computation a stage performs.
type Op string

const (
	OpCopy Op = "copy" // out = in0
	OpAdd  Op = "add"  // out = in0 + in1
	OpMul  Op = "mul"  // out = in0 * in1
	OpSum  Op = "sum"  // out += in0 over the reduce axes
	OpDot  Op = "dot"  // out += in0 * in1 over the reduce axes
)

// ReducePrefix marks an iteration variable as a reduction axis by name.
const ReducePrefix = "reduce"

var opInputs = map[Op]int{
	OpCopy: 1,
	OpAdd:  2,
	OpMul:  2,
	OpSum:  1,
	OpDot:  2,
}

func (o Op) reduces() bool { return o == OpSum || o == OpDot }

// Axis is one loop of a stage, outermost first.
type Axis struct {
	Name   string `json:"name" yaml:"name"`
	Extent int64  `json:"extent" yaml:"extent"`
	Reduce bool   `json:"reduce,omitempty" yaml:"reduce,omitempty"`
}

// IsReduce reports whether the axis is a reduction, by flag or by name.
func (a Axis) IsReduce() bool {
	return a.Reduce || strings.HasPrefix(a.Name, ReducePrefix)
}

// Access names a tensor and the stage axes that index it.
type Access struct {
	Tensor string   `json:"tensor" yaml:"tensor"`
	Axes   []string `json:"axes" yaml:"axes"`
}

// Stage is one schedule block: a loop nest computing one output tensor.
// The output tensor has the stage's name and is indexed by its spatial axes.
type Stage struct {
	Name   string   `json:"name" yaml:"name"`
	Op     Op       `json:"op" yaml:"op"`
	Axes   []Axis   `json:"axes" yaml:"axes"`
	Inputs []Access `json:"inputs" yaml:"inputs"`
}

// Workload describes the loop nests of one function before scheduling.
type Workload struct {
	Name     string  `json:"name" yaml:"name"`
	Function string  `json:"function,omitempty" yaml:"function,omitempty"`
	Stages   []Stage `json:"stages" yaml:"stages"`
}

// FunctionName returns the emitted function name.
func (w Workload) FunctionName() string {
	if w.Function != "" {
		return w.Function
	}
	return "fn_" + w.Name
}

// InitBlockName returns the name of the init block generated for a
// reduction stage.
func InitBlockName(stage string) string {
	return stage + "__reduce_init"
}

// Validate checks the workload for structural errors.
func (w Workload) Validate() error {
	_, err := w.tensorShapes()
	return err
}

type tensorInfo struct {
	name   string
	shape  []int64
	output bool
}

// tensorShapes infers every tensor's shape from the axes indexing it and
// returns them inputs first, in order of first use, then outputs in stage
// order.
func (w Workload) tensorShapes() ([]tensorInfo, error) {
	if w.Name == "" {
		return nil, fmt.Errorf("workload: name is required")
	}
	if len(w.Stages) == 0 {
		return nil, fmt.Errorf("workload %q: at least one stage is required", w.Name)
	}

	produced := make(map[string]bool)
	for _, s := range w.Stages {
		if s.Name == "" {
			return nil, fmt.Errorf("workload %q: stage name is required", w.Name)
		}
		if produced[s.Name] {
			return nil, fmt.Errorf("workload %q: duplicate stage %q", w.Name, s.Name)
		}
		produced[s.Name] = true
	}

	shapes := make(map[string][]int64)
	var inputs, outputs []tensorInfo
	record := func(name string, shape []int64) error {
		if prev, ok := shapes[name]; ok {
			if !equalShape(prev, shape) {
				return fmt.Errorf("tensor %q: shape %v conflicts with %v", name, shape, prev)
			}
			return nil
		}
		shapes[name] = shape
		return nil
	}

	for _, s := range w.Stages {
		want, ok := opInputs[s.Op]
		if !ok {
			return nil, fmt.Errorf("stage %q: unknown op %q", s.Name, s.Op)
		}
		if len(s.Inputs) != want {
			return nil, fmt.Errorf("stage %q: op %s takes %d inputs, got %d", s.Name, s.Op, want, len(s.Inputs))
		}
		if len(s.Axes) == 0 {
			return nil, fmt.Errorf("stage %q: at least one axis is required", s.Name)
		}

		extents := make(map[string]int64, len(s.Axes))
		var outShape []int64
		hasReduce := false
		for _, a := range s.Axes {
			if a.Name == "" {
				return nil, fmt.Errorf("stage %q: axis name is required", s.Name)
			}
			if a.Extent <= 0 {
				return nil, fmt.Errorf("stage %q: axis %q extent must be positive, got %d", s.Name, a.Name, a.Extent)
			}
			if _, dup := extents[a.Name]; dup {
				return nil, fmt.Errorf("stage %q: duplicate axis %q", s.Name, a.Name)
			}
			extents[a.Name] = a.Extent
			if a.IsReduce() {
				hasReduce = true
			} else {
				outShape = append(outShape, a.Extent)
			}
		}
		if s.Op.reduces() != hasReduce {
			if hasReduce {
				return nil, fmt.Errorf("stage %q: op %s does not take reduce axes", s.Name, s.Op)
			}
			return nil, fmt.Errorf("stage %q: op %s needs at least one reduce axis", s.Name, s.Op)
		}
		if len(outShape) == 0 {
			return nil, fmt.Errorf("stage %q: at least one spatial axis is required", s.Name)
		}

		for _, in := range s.Inputs {
			if in.Tensor == s.Name {
				return nil, fmt.Errorf("stage %q: reads its own output", s.Name)
			}
			shape := make([]int64, len(in.Axes))
			for i, ax := range in.Axes {
				ext, ok := extents[ax]
				if !ok {
					return nil, fmt.Errorf("stage %q: input %q uses unknown axis %q", s.Name, in.Tensor, ax)
				}
				shape[i] = ext
			}
			if len(shape) == 0 {
				return nil, fmt.Errorf("stage %q: input %q needs at least one axis", s.Name, in.Tensor)
			}
			_, seen := shapes[in.Tensor]
			if err := record(in.Tensor, shape); err != nil {
				return nil, fmt.Errorf("stage %q: %w", s.Name, err)
			}
			if !seen && !produced[in.Tensor] {
				inputs = append(inputs, tensorInfo{name: in.Tensor, shape: shape})
			}
		}
		if err := record(s.Name, outShape); err != nil {
			return nil, fmt.Errorf("stage %q: %w", s.Name, err)
		}
		outputs = append(outputs, tensorInfo{name: s.Name, shape: outShape, output: true})
	}
	return append(inputs, outputs...), nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Build constructs the initial loop IR of a workload.
//
// Every stage becomes a perfect loop nest, outermost axis first, around a
// single schedule block named after the stage. Reduction stages get a
// preceding init block over their spatial axes. Loop variable names are
// allocated from names, so building the same workload with fresh contexts
// yields structurally equal modules.
func Build(w Workload, names *NameContext) (*Module, error) {
	tensors, err := w.tensorShapes()
	if err != nil {
		return nil, err
	}
	m := NewModule(names)

	var stmts []Expr
	for _, s := range w.Stages {
		if s.Op.reduces() {
			stmts = append(stmts, m.buildInit(s))
		}
		stmts = append(stmts, m.buildStage(s))
	}

	args := make([]Arg, len(tensors))
	for i, t := range tensors {
		args[i] = Arg{Name: t.name, Shape: t.shape, Output: t.output}
	}
	if err := m.AddFunc(w.FunctionName(), args, m.Block(stmts...)); err != nil {
		return nil, err
	}
	return m, nil
}

func spatialAxes(s Stage) []Axis {
	var out []Axis
	for _, a := range s.Axes {
		if !a.IsReduce() {
			out = append(out, a)
		}
	}
	return out
}

// nest wraps a realize node into loops over axes, returning the outermost.
func (m *Module) nest(axes []Axis, build func(loopVars, iterVars map[string]Expr) (Expr, []Expr, []Expr)) Expr {
	loopVars := make(map[string]Expr, len(axes))
	iterVars := make(map[string]Expr, len(axes))
	ordered := make([]Expr, len(axes))
	for i, a := range axes {
		ordered[i] = m.Var(m.names.Fresh(a.Name), false)
		loopVars[a.Name] = ordered[i]
		iterVars[a.Name] = m.Var(a.Name, a.IsReduce())
	}
	body, ivs, values := build(loopVars, iterVars)
	stmt := m.Block(m.Realize(values, m.ScheduleBlock("", ivs, body)))
	for i := len(axes) - 1; i >= 0; i-- {
		loop := m.For(ordered[i], axes[i].Extent, stmt)
		if i == 0 {
			return loop
		}
		stmt = m.Block(loop)
	}
	return stmt
}

func (m *Module) buildInit(s Stage) Expr {
	axes := spatialAxes(s)
	loop := m.nest(axes, func(loopVars, iterVars map[string]Expr) (Expr, []Expr, []Expr) {
		ivs, vals := bindings(axes, loopVars, iterVars)
		store := m.Store(s.Name, m.Float(0), ivs...)
		return m.Block(store), ivs, vals
	})
	m.nameBlock(loop, InitBlockName(s.Name))
	return loop
}

func (m *Module) buildStage(s Stage) Expr {
	loop := m.nest(s.Axes, func(loopVars, iterVars map[string]Expr) (Expr, []Expr, []Expr) {
		ivs, vals := bindings(s.Axes, loopVars, iterVars)
		var outIdx []Expr
		for _, a := range s.Axes {
			if !a.IsReduce() {
				outIdx = append(outIdx, iterVars[a.Name])
			}
		}
		loads := make([]Expr, len(s.Inputs))
		for i, in := range s.Inputs {
			idx := make([]Expr, len(in.Axes))
			for j, ax := range in.Axes {
				idx[j] = iterVars[ax]
			}
			loads[i] = m.Load(in.Tensor, idx...)
		}
		var value Expr
		switch s.Op {
		case OpCopy:
			value = loads[0]
		case OpAdd:
			value = m.Add(loads[0], loads[1])
		case OpMul:
			value = m.Mul(loads[0], loads[1])
		case OpSum:
			value = m.Add(m.Load(s.Name, outIdx...), loads[0])
		case OpDot:
			value = m.Add(m.Load(s.Name, outIdx...), m.Mul(loads[0], loads[1]))
		}
		return m.Block(m.Store(s.Name, value, outIdx...)), ivs, vals
	})
	m.nameBlock(loop, s.Name)
	return loop
}

func bindings(axes []Axis, loopVars, iterVars map[string]Expr) ([]Expr, []Expr) {
	ivs := make([]Expr, len(axes))
	vals := make([]Expr, len(axes))
	for i, a := range axes {
		ivs[i] = iterVars[a.Name]
		vals[i] = loopVars[a.Name]
	}
	return ivs, vals
}

// nameBlock sets the name of the single schedule block under loop.
func (m *Module) nameBlock(loop Expr, name string) {
	m.Walk(loop, func(e Expr) bool {
		if n := m.node(e); n.kind == KindScheduleBlock {
			n.name = name
			return false
		}
		return true
	})
}
