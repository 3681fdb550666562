package ir

import (
	"fmt"
	"slices"
)

// Kind identifies the node type behind an Expr handle.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVar
	KindInt
	KindFloat
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindMod
	KindLT
	KindLoad
	KindStore
	KindFor
	KindBlock
	KindIfThenElse
	KindScheduleBlock
	KindScheduleBlockRealize
)

var kindNames = map[Kind]string{
	KindInvalid:              "invalid",
	KindVar:                  "var",
	KindInt:                  "int",
	KindFloat:                "float",
	KindAdd:                  "add",
	KindSub:                  "sub",
	KindMul:                  "mul",
	KindDiv:                  "div",
	KindMod:                  "mod",
	KindLT:                   "lt",
	KindLoad:                 "load",
	KindStore:                "store",
	KindFor:                  "for",
	KindBlock:                "block",
	KindIfThenElse:           "if_then_else",
	KindScheduleBlock:        "schedule_block",
	KindScheduleBlockRealize: "schedule_block_realize",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ForType is the execution kind of a loop.
type ForType uint8

const (
	Serial ForType = iota
	Parallel
	Unrolled
	GPUBlock
	GPUThread
)

func (t ForType) String() string {
	switch t {
	case Serial:
		return "serial"
	case Parallel:
		return "parallel"
	case Unrolled:
		return "unroll"
	case GPUBlock:
		return "gpu_block"
	case GPUThread:
		return "gpu_thread"
	default:
		return fmt.Sprintf("for_type(%d)", uint8(t))
	}
}

// Expr is a handle to a node in a Module's arena.
//
// Handles are only meaningful within the module that created them. A handle
// from one module never compares equal to a handle from another, including
// a module's clone; use Module.Rebase to translate across a clone.
type Expr struct {
	a  *arena
	id int32
}

// Defined reports whether the handle refers to a node.
func (e Expr) Defined() bool { return e.a != nil }

// ID returns the arena slot of the handle. Only stable within one module.
func (e Expr) ID() int32 { return e.id }

type node struct {
	kind    Kind
	name    string // var name, tensor name, schedule block name
	ival    int64  // int immediate, loop extent
	fval    float64
	reduce  bool
	forType ForType
	bind    string // hardware dimension of a bound loop

	// Binary: x, y. For: x=var, y=body. IfThenElse: x=cond, y=then.
	// Store: x=value. ScheduleBlock: x=body. Realize: x=schedule block.
	x, y Expr

	// Block stmts, Load/Store indices, ScheduleBlock iter vars,
	// Realize iter values.
	list []Expr
}

type arena struct {
	nodes []node
}

// Func is one lowered function of a module.
type Func struct {
	Name string
	Args []Arg
	Body Expr
}

// Arg is a tensor argument of a function.
type Arg struct {
	Name   string
	Shape  []int64
	Output bool
}

// Module owns an arena of IR nodes together with the name context used to
// allocate loop variable names.
//
// A Module is not safe for concurrent mutation. Clone it to hand an
// independent copy to another goroutine.
type Module struct {
	a     *arena
	names *NameContext
	funcs []Func
}

// NewModule creates an empty module. A nil context gets a fresh one.
func NewModule(names *NameContext) *Module {
	if names == nil {
		names = NewNameContext()
	}
	return &Module{a: &arena{}, names: names}
}

// Names returns the module's name context.
func (m *Module) Names() *NameContext { return m.names }

// Funcs returns the module's functions in declaration order.
func (m *Module) Funcs() []Func {
	out := make([]Func, len(m.funcs))
	for i, f := range m.funcs {
		out[i] = Func{Name: f.Name, Args: cloneArgs(f.Args), Body: f.Body}
	}
	return out
}

// AddFunc appends a function whose body must be a Block owned by m.
func (m *Module) AddFunc(name string, args []Arg, body Expr) error {
	if m.Kind(body) != KindBlock {
		return fmt.Errorf("add func %q: body must be a block, got %s", name, m.Kind(body))
	}
	m.funcs = append(m.funcs, Func{Name: name, Args: cloneArgs(args), Body: body})
	return nil
}

// Owns reports whether e belongs to this module.
func (m *Module) Owns(e Expr) bool {
	return e.a == m.a && e.a != nil && int(e.id) < len(m.a.nodes)
}

// Kind returns the node kind of e, or KindInvalid for foreign handles.
func (m *Module) Kind(e Expr) Kind {
	n := m.node(e)
	if n == nil {
		return KindInvalid
	}
	return n.kind
}

func (m *Module) node(e Expr) *node {
	if !m.Owns(e) {
		return nil
	}
	return &m.a.nodes[e.id]
}

func (m *Module) alloc(n node) Expr {
	m.a.nodes = append(m.a.nodes, n)
	return Expr{a: m.a, id: int32(len(m.a.nodes) - 1)}
}

// Clone returns a deep copy of the module. No handle is shared between the
// original and the copy; Rebase translates handles of m into the copy.
func (m *Module) Clone() *Module {
	na := &arena{nodes: make([]node, len(m.a.nodes))}
	rehome := func(e Expr) Expr {
		if !e.Defined() {
			return e
		}
		return Expr{a: na, id: e.id}
	}
	for i, n := range m.a.nodes {
		c := n
		c.x = rehome(n.x)
		c.y = rehome(n.y)
		if n.list != nil {
			c.list = make([]Expr, len(n.list))
			for j, e := range n.list {
				c.list[j] = rehome(e)
			}
		}
		na.nodes[i] = c
	}
	out := &Module{a: na, names: m.names.Clone()}
	for _, f := range m.funcs {
		out.funcs = append(out.funcs, Func{Name: f.Name, Args: cloneArgs(f.Args), Body: rehome(f.Body)})
	}
	return out
}

// Rebase maps a handle of the module m was cloned from onto m.
func (m *Module) Rebase(e Expr) Expr {
	if !e.Defined() {
		return e
	}
	return Expr{a: m.a, id: e.id}
}

func cloneArgs(args []Arg) []Arg {
	out := make([]Arg, len(args))
	for i, a := range args {
		out[i] = Arg{Name: a.Name, Shape: slices.Clone(a.Shape), Output: a.Output}
	}
	return out
}

// ---- constructors ----

// Var creates a variable node.
func (m *Module) Var(name string, reduce bool) Expr {
	return m.alloc(node{kind: KindVar, name: name, reduce: reduce})
}

// Int creates an integer immediate.
func (m *Module) Int(v int64) Expr {
	return m.alloc(node{kind: KindInt, ival: v})
}

// Float creates a floating point immediate.
func (m *Module) Float(v float64) Expr {
	return m.alloc(node{kind: KindFloat, fval: v})
}

func (m *Module) binary(k Kind, a, b Expr) Expr {
	return m.alloc(node{kind: k, x: a, y: b})
}

func (m *Module) Add(a, b Expr) Expr { return m.binary(KindAdd, a, b) }
func (m *Module) Sub(a, b Expr) Expr { return m.binary(KindSub, a, b) }
func (m *Module) Mul(a, b Expr) Expr { return m.binary(KindMul, a, b) }
func (m *Module) Div(a, b Expr) Expr { return m.binary(KindDiv, a, b) }
func (m *Module) Mod(a, b Expr) Expr { return m.binary(KindMod, a, b) }
func (m *Module) LT(a, b Expr) Expr  { return m.binary(KindLT, a, b) }

// Load reads tensor at the given indices.
func (m *Module) Load(tensor string, indices ...Expr) Expr {
	return m.alloc(node{kind: KindLoad, name: tensor, list: slices.Clone(indices)})
}

// Store writes value into tensor at the given indices.
func (m *Module) Store(tensor string, value Expr, indices ...Expr) Expr {
	return m.alloc(node{kind: KindStore, name: tensor, x: value, list: slices.Clone(indices)})
}

// For creates a serial loop from 0 to extent over loopVar.
func (m *Module) For(loopVar Expr, extent int64, body Expr) Expr {
	return m.alloc(node{kind: KindFor, x: loopVar, y: body, ival: extent, forType: Serial})
}

// Block creates a statement list.
func (m *Module) Block(stmts ...Expr) Expr {
	return m.alloc(node{kind: KindBlock, list: slices.Clone(stmts)})
}

// IfThenElse creates a guarded statement without else branch.
func (m *Module) IfThenElse(cond, then Expr) Expr {
	return m.alloc(node{kind: KindIfThenElse, x: cond, y: then})
}

// ScheduleBlock creates a named computation block over iterVars.
func (m *Module) ScheduleBlock(name string, iterVars []Expr, body Expr) Expr {
	return m.alloc(node{kind: KindScheduleBlock, name: name, x: body, list: slices.Clone(iterVars)})
}

// Realize binds a schedule block's iter vars to iterValues.
func (m *Module) Realize(iterValues []Expr, scheduleBlock Expr) Expr {
	return m.alloc(node{kind: KindScheduleBlockRealize, x: scheduleBlock, list: slices.Clone(iterValues)})
}

// ---- read views ----

// VarNode is a read view of a Var.
type VarNode struct {
	Name   string
	Reduce bool
}

// AsVar returns the var view of e.
func (m *Module) AsVar(e Expr) (VarNode, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindVar {
		return VarNode{}, false
	}
	return VarNode{Name: n.name, Reduce: n.reduce}, true
}

// AsInt returns the value of an integer immediate.
func (m *Module) AsInt(e Expr) (int64, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindInt {
		return 0, false
	}
	return n.ival, true
}

// AsFloat returns the value of a float immediate.
func (m *Module) AsFloat(e Expr) (float64, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindFloat {
		return 0, false
	}
	return n.fval, true
}

// Operands returns the operands of a binary node.
func (m *Module) Operands(e Expr) (Expr, Expr, bool) {
	n := m.node(e)
	if n == nil {
		return Expr{}, Expr{}, false
	}
	switch n.kind {
	case KindAdd, KindSub, KindMul, KindDiv, KindMod, KindLT:
		return n.x, n.y, true
	}
	return Expr{}, Expr{}, false
}

// AccessNode is a read view of a Load or Store.
type AccessNode struct {
	Tensor  string
	Indices []Expr
	Value   Expr // Store only
}

// AsAccess returns the view of a Load or Store.
func (m *Module) AsAccess(e Expr) (AccessNode, bool) {
	n := m.node(e)
	if n == nil || (n.kind != KindLoad && n.kind != KindStore) {
		return AccessNode{}, false
	}
	return AccessNode{Tensor: n.name, Indices: slices.Clone(n.list), Value: n.x}, true
}

// ForNode is a read view of a loop.
type ForNode struct {
	Var     Expr
	Extent  int64
	Type    ForType
	BindDim string
	Body    Expr
}

// IsBound reports whether the loop is bound to a hardware dimension.
func (f ForNode) IsBound() bool {
	return f.Type == GPUBlock || f.Type == GPUThread
}

// IsGPUThreadBound reports whether the loop is bound to a thread dimension.
func (f ForNode) IsGPUThreadBound() bool {
	return f.Type == GPUThread
}

// AsFor returns the loop view of e.
func (m *Module) AsFor(e Expr) (ForNode, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindFor {
		return ForNode{}, false
	}
	return ForNode{Var: n.x, Extent: n.ival, Type: n.forType, BindDim: n.bind, Body: n.y}, true
}

// AsBlock returns the statements of a Block.
func (m *Module) AsBlock(e Expr) ([]Expr, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindBlock {
		return nil, false
	}
	return slices.Clone(n.list), true
}

// AsIfThenElse returns the condition and then-branch of a guard.
func (m *Module) AsIfThenElse(e Expr) (cond, then Expr, ok bool) {
	n := m.node(e)
	if n == nil || n.kind != KindIfThenElse {
		return Expr{}, Expr{}, false
	}
	return n.x, n.y, true
}

// ScheduleBlockNode is a read view of a ScheduleBlock.
type ScheduleBlockNode struct {
	Name     string
	IterVars []Expr
	Body     Expr
}

// AsScheduleBlock returns the schedule block view of e.
func (m *Module) AsScheduleBlock(e Expr) (ScheduleBlockNode, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindScheduleBlock {
		return ScheduleBlockNode{}, false
	}
	return ScheduleBlockNode{Name: n.name, IterVars: slices.Clone(n.list), Body: n.x}, true
}

// RealizeNode is a read view of a ScheduleBlockRealize.
type RealizeNode struct {
	IterValues    []Expr
	ScheduleBlock Expr
}

// AsRealize returns the realize view of e.
func (m *Module) AsRealize(e Expr) (RealizeNode, bool) {
	n := m.node(e)
	if n == nil || n.kind != KindScheduleBlockRealize {
		return RealizeNode{}, false
	}
	return RealizeNode{IterValues: slices.Clone(n.list), ScheduleBlock: n.x}, true
}

// BlockName returns the schedule block name of a realize node.
func (m *Module) BlockName(realize Expr) (string, bool) {
	r, ok := m.AsRealize(realize)
	if !ok {
		return "", false
	}
	sb, ok := m.AsScheduleBlock(r.ScheduleBlock)
	if !ok {
		return "", false
	}
	return sb.Name, true
}

// ---- mutators used by schedule primitives ----

// SetForBody replaces the body of a loop.
func (m *Module) SetForBody(loop, body Expr) error {
	n := m.node(loop)
	if n == nil || n.kind != KindFor {
		return fmt.Errorf("set for body: %s is not a loop", m.Kind(loop))
	}
	n.y = body
	return nil
}

// SetForType changes the execution kind of a loop. bindDim is only kept
// for GPU loop types.
func (m *Module) SetForType(loop Expr, t ForType, bindDim string) error {
	n := m.node(loop)
	if n == nil || n.kind != KindFor {
		return fmt.Errorf("set for type: %s is not a loop", m.Kind(loop))
	}
	n.forType = t
	if t == GPUBlock || t == GPUThread {
		n.bind = bindDim
	} else {
		n.bind = ""
	}
	return nil
}
