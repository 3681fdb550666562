package trace

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/schedule"
)

// Variadic marks a step kind whose output count depends on its arguments.
const Variadic = -1

// Slot declares one named input of a step kind. Count is the exact number
// of handles expected, or 0 for one or more.
type Slot struct {
	Name  string
	Count int
}

// AttrSpec declares one named attribute of a step kind.
type AttrSpec struct {
	Name string
	Kind ValueKind
}

// InvokeFunc applies a step's arguments to a live schedule and returns the
// handles the primitive produced.
type InvokeFunc func(s *schedule.Schedule, args Args) ([]ir.Expr, error)

// StepKind describes one registered operation.
type StepKind struct {
	Name    string
	Inputs  []Slot
	Attrs   []AttrSpec
	Outputs int // exact count, or Variadic
	Invoke  InvokeFunc

	// Arity, when set, derives the output count from the attributes and
	// takes precedence over Outputs.
	Arity func(attrs map[string]Value) int
}

// Registry maps step kind names to their descriptions.
//
// Thread-safety: registration is not synchronized. Once frozen, a registry
// is read-only and safe for concurrent lookups.
type Registry struct {
	kinds  map[string]StepKind
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]StepKind)}
}

// Register adds a step kind.
func (r *Registry) Register(k StepKind) error {
	if r.frozen {
		return fmt.Errorf("register %q: registry is frozen", k.Name)
	}
	if k.Name == "" {
		return fmt.Errorf("register: step kind name is required")
	}
	if k.Invoke == nil {
		return fmt.Errorf("register %q: invoke func is required", k.Name)
	}
	if _, dup := r.kinds[k.Name]; dup {
		return fmt.Errorf("register %q: already registered", k.Name)
	}
	k.Inputs = slices.Clone(k.Inputs)
	k.Attrs = slices.Clone(k.Attrs)
	r.kinds[k.Name] = k
	return nil
}

// MustRegister is like Register but panics on error.
// Use only during package initialization.
func (r *Registry) MustRegister(k StepKind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup returns the step kind registered under name.
func (r *Registry) Lookup(name string) (StepKind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return StepKind{}, newError(ErrCodeUnknownOperationKind, name, -1, "step kind %q is not registered", name)
	}
	return k, nil
}

// Names returns every registered kind in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Args gives an invoke func typed access to a step's inputs and attributes.
type Args struct {
	step *Step
}

func (a Args) input(slot string) ([]ir.Expr, error) {
	v, ok := a.step.Inputs[slot]
	if !ok {
		return nil, newError(ErrCodeArityMismatch, a.step.Kind, -1, "input %q is missing", slot)
	}
	return v, nil
}

func (a Args) attr(name string) (Value, error) {
	v, ok := a.step.Attrs[name]
	if !ok {
		return nil, newError(ErrCodeArityMismatch, a.step.Kind, -1, "attribute %q is missing", name)
	}
	return v, nil
}

// Expr returns the single handle bound to slot.
func (a Args) Expr(slot string) (ir.Expr, error) {
	v, err := a.input(slot)
	if err != nil {
		return ir.Expr{}, err
	}
	if len(v) != 1 {
		return ir.Expr{}, newError(ErrCodeArityMismatch, a.step.Kind, -1, "input %q wants 1 handle, got %d", slot, len(v))
	}
	return v[0], nil
}

// Exprs returns the handles bound to slot.
func (a Args) Exprs(slot string) ([]ir.Expr, error) {
	v, err := a.input(slot)
	return slices.Clone(v), err
}

// Int returns an int attribute.
func (a Args) Int(name string) (int64, error) {
	v, err := a.attr(name)
	if err != nil {
		return 0, err
	}
	return AsInt(v)
}

// Ints returns an int sequence attribute.
func (a Args) Ints(name string) ([]int64, error) {
	v, err := a.attr(name)
	if err != nil {
		return nil, err
	}
	return AsInts(v)
}

// String returns a string attribute.
func (a Args) String(name string) (string, error) {
	v, err := a.attr(name)
	if err != nil {
		return "", err
	}
	return AsString(v)
}

var defaultRegistry = newDefaultRegistry()

// DefaultRegistry returns the process-wide registry of schedule primitives.
// It is frozen during package initialization.
func DefaultRegistry() *Registry { return defaultRegistry }

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, k := range primitiveKinds() {
		r.MustRegister(k)
	}
	r.Freeze()
	return r
}

func primitiveKinds() []StepKind {
	return []StepKind{
		{
			Name:    "GetAllBlocks",
			Outputs: Variadic,
			Invoke: func(s *schedule.Schedule, _ Args) ([]ir.Expr, error) {
				return s.GetAllBlocks(), nil
			},
		},
		{
			Name:    "GetBlock",
			Attrs:   []AttrSpec{{Name: "block_name", Kind: KindString}},
			Outputs: 1,
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				name, err := a.String("block_name")
				if err != nil {
					return nil, err
				}
				b, err := s.GetBlock(name)
				if err != nil {
					return nil, err
				}
				return []ir.Expr{b}, nil
			},
		},
		{
			Name:    "GetLoops",
			Inputs:  []Slot{{Name: "block", Count: 1}},
			Outputs: Variadic,
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				b, err := a.Expr("block")
				if err != nil {
					return nil, err
				}
				return s.GetLoops(b)
			},
		},
		{
			Name:    "GetLoopsWithName",
			Attrs:   []AttrSpec{{Name: "block_name", Kind: KindString}},
			Outputs: Variadic,
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				name, err := a.String("block_name")
				if err != nil {
					return nil, err
				}
				return s.GetLoopsByName(name)
			},
		},
		{
			Name:    "Fuse",
			Inputs:  []Slot{{Name: "loops"}},
			Outputs: 1,
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loops, err := a.Exprs("loops")
				if err != nil {
					return nil, err
				}
				fused, err := s.Fuse(loops)
				if err != nil {
					return nil, err
				}
				return []ir.Expr{fused}, nil
			},
		},
		{
			Name: "FuseWithBlockName",
			Attrs: []AttrSpec{
				{Name: "block_name", Kind: KindString},
				{Name: "loops_index", Kind: KindInts},
			},
			Outputs: 1,
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				name, err := a.String("block_name")
				if err != nil {
					return nil, err
				}
				idx, err := a.Ints("loops_index")
				if err != nil {
					return nil, err
				}
				indices := make([]int, len(idx))
				for i, v := range idx {
					indices[i] = int(v)
				}
				fused, err := s.FuseByName(name, indices)
				if err != nil {
					return nil, err
				}
				return []ir.Expr{fused}, nil
			},
		},
		{
			Name:    "Split",
			Inputs:  []Slot{{Name: "loop", Count: 1}},
			Attrs:   []AttrSpec{{Name: "factors", Kind: KindInts}},
			Outputs: Variadic,
			Arity: func(attrs map[string]Value) int {
				factors, _ := attrs["factors"].(Ints)
				return len(factors)
			},
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loop, err := a.Expr("loop")
				if err != nil {
					return nil, err
				}
				factors, err := a.Ints("factors")
				if err != nil {
					return nil, err
				}
				return s.Split(loop, factors)
			},
		},
		{
			Name:   "Reorder",
			Inputs: []Slot{{Name: "loops"}},
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loops, err := a.Exprs("loops")
				if err != nil {
					return nil, err
				}
				return nil, s.Reorder(loops)
			},
		},
		{
			Name:   "Bind",
			Inputs: []Slot{{Name: "loop", Count: 1}},
			Attrs:  []AttrSpec{{Name: "thread_axis", Kind: KindString}},
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loop, err := a.Expr("loop")
				if err != nil {
					return nil, err
				}
				dim, err := a.String("thread_axis")
				if err != nil {
					return nil, err
				}
				return nil, s.Bind(loop, dim)
			},
		},
		{
			Name:   "Parallel",
			Inputs: []Slot{{Name: "loop", Count: 1}},
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loop, err := a.Expr("loop")
				if err != nil {
					return nil, err
				}
				return nil, s.Parallel(loop)
			},
		},
		{
			Name:   "Unroll",
			Inputs: []Slot{{Name: "loop", Count: 1}},
			Invoke: func(s *schedule.Schedule, a Args) ([]ir.Expr, error) {
				loop, err := a.Expr("loop")
				if err != nil {
					return nil, err
				}
				return nil, s.Unroll(loop)
			},
		},
	}
}
