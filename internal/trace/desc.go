package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strconv"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/schedule"
)

// Step is one application of a registered operation, expressed in live
// handles of the schedule it was applied to.
type Step struct {
	Kind    string
	Inputs  map[string][]ir.Expr
	Attrs   map[string]Value
	Outputs []ir.Expr
}

// Option configures a Desc.
type Option func(*Desc)

// WithRegistry sets the registry used to validate and replay steps.
// Defaults to DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(d *Desc) {
		d.reg = r
	}
}

// Desc is the ordered, replayable record of every step applied to a
// schedule, together with the table mapping recorded output names to the
// live handles of the schedule being recorded.
//
// Thread-safety: none. A Desc has a single owner; Copy it to branch.
type Desc struct {
	reg     *Registry
	records []Record

	names map[string]ir.Expr // recorded name -> live handle
	ids   map[ir.Expr]string // live handle -> latest name
	used  map[string]bool    // every output name in records
	next  int
}

// NewDesc creates an empty descriptor.
func NewDesc(opts ...Option) *Desc {
	d := &Desc{
		reg:   defaultRegistry,
		names: make(map[string]ir.Expr),
		ids:   make(map[ir.Expr]string),
		used:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Len returns the number of recorded steps.
func (d *Desc) Len() int { return len(d.records) }

// Records returns a copy of the recorded steps in replay order.
func (d *Desc) Records() []Record {
	out := make([]Record, len(d.records))
	for i, r := range d.records {
		out[i] = r.clone()
	}
	return out
}

// NameOf returns the latest recorded name bound to a live handle.
func (d *Desc) NameOf(e ir.Expr) (string, bool) {
	n, ok := d.ids[e]
	return n, ok
}

// Lookup returns the live handle bound to a recorded name.
func (d *Desc) Lookup(name string) (ir.Expr, bool) {
	e, ok := d.names[name]
	return e, ok
}

// Append validates step against the registry and the name table, assigns
// fresh names to its outputs and records it. Returns the output names.
func (d *Desc) Append(step Step) ([]string, error) {
	k, err := d.reg.Lookup(step.Kind)
	if err != nil {
		return nil, err
	}
	if err := d.check(k, step, true); err != nil {
		return nil, err
	}

	rec := Record{
		Type:    step.Kind,
		Inputs:  make(map[string][]string, len(step.Inputs)),
		Attrs:   make(map[string]Value, len(step.Attrs)),
		Outputs: make([]string, len(step.Outputs)),
	}
	for slot, handles := range step.Inputs {
		names := make([]string, len(handles))
		for i, h := range handles {
			names[i] = d.ids[h]
		}
		rec.Inputs[slot] = names
	}
	for name, v := range step.Attrs {
		switch val := v.(type) {
		case Expr:
			rec.Attrs[name] = Name(d.ids[ir.Expr(val)])
		case Exprs:
			names := make(Names, len(val))
			for i, h := range val {
				names[i] = d.ids[h]
			}
			rec.Attrs[name] = names
		default:
			rec.Attrs[name] = cloneValue(v)
		}
	}
	for i, out := range step.Outputs {
		n := d.fresh()
		rec.Outputs[i] = n
		d.bind(n, out)
	}
	d.records = append(d.records, rec)
	return append([]string(nil), rec.Outputs...), nil
}

// Pop removes and returns the last recorded step.
func (d *Desc) Pop() (Record, bool) {
	if len(d.records) == 0 {
		return Record{}, false
	}
	last := d.records[len(d.records)-1]
	d.records = d.records[:len(d.records)-1]
	for _, n := range last.Outputs {
		delete(d.names, n)
		delete(d.used, n)
	}
	d.rebuildIDs()
	return last, true
}

// check validates a step's shape against k and its handles against the
// name table. Outputs are only checked when withOutputs is set.
func (d *Desc) check(k StepKind, step Step, withOutputs bool) error {
	lens := make(map[string]int, len(step.Inputs))
	for slot, h := range step.Inputs {
		lens[slot] = len(h)
	}
	if err := checkShape(k, -1, lens, step.Attrs); err != nil {
		return err
	}
	if withOutputs {
		if err := checkOutputs(k, -1, step.Attrs, len(step.Outputs)); err != nil {
			return err
		}
	}

	for _, slot := range sortedKeys(step.Inputs) {
		for i, h := range step.Inputs[slot] {
			if _, ok := d.ids[h]; !ok {
				return newError(ErrCodeDanglingInputReference, k.Name, -1,
					"input %q[%d] was not produced by an earlier step", slot, i)
			}
		}
	}
	for _, name := range sortedKeys(step.Attrs) {
		var handles []ir.Expr
		switch v := step.Attrs[name].(type) {
		case Expr:
			handles = []ir.Expr{ir.Expr(v)}
		case Exprs:
			handles = v
		case Name, Names:
			return newError(ErrCodeAttributeTypeMismatch, k.Name, -1,
				"attribute %q holds a recorded name, want a live handle", name)
		}
		for _, h := range handles {
			if _, ok := d.ids[h]; !ok {
				return newError(ErrCodeDanglingInputReference, k.Name, -1,
					"attribute %q references a handle not produced by an earlier step", name)
			}
		}
	}
	return nil
}

// checkShape verifies that every declared input and attribute is present
// with the right count and tag, and nothing undeclared is.
func checkShape(k StepKind, idx int, inputLens map[string]int, attrs map[string]Value) error {
	declared := make(map[string]bool, len(k.Inputs))
	for _, slot := range k.Inputs {
		declared[slot.Name] = true
		n, ok := inputLens[slot.Name]
		switch {
		case !ok:
			return newError(ErrCodeArityMismatch, k.Name, idx, "input %q is missing", slot.Name)
		case slot.Count > 0 && n != slot.Count:
			return newError(ErrCodeArityMismatch, k.Name, idx, "input %q wants %d handles, got %d", slot.Name, slot.Count, n)
		case slot.Count == 0 && n == 0:
			return newError(ErrCodeArityMismatch, k.Name, idx, "input %q wants at least one handle", slot.Name)
		}
	}
	for _, slot := range sortedKeys(inputLens) {
		if !declared[slot] {
			return newError(ErrCodeArityMismatch, k.Name, idx, "unexpected input %q", slot)
		}
	}

	declared = make(map[string]bool, len(k.Attrs))
	for _, spec := range k.Attrs {
		declared[spec.Name] = true
		v, ok := attrs[spec.Name]
		if !ok || v == nil {
			return newError(ErrCodeArityMismatch, k.Name, idx, "attribute %q is missing", spec.Name)
		}
		if v.Kind() != spec.Kind {
			return newError(ErrCodeAttributeTypeMismatch, k.Name, idx,
				"attribute %q wants %s, got %s", spec.Name, spec.Kind, v.Kind())
		}
		if reason := unencodable(v); reason != "" {
			return newError(ErrCodeAttributeTypeMismatch, k.Name, idx,
				"attribute %q %s", spec.Name, reason)
		}
	}
	for _, name := range sortedKeys(attrs) {
		if !declared[name] {
			return newError(ErrCodeArityMismatch, k.Name, idx, "unexpected attribute %q", name)
		}
	}
	return nil
}

// checkOutputs verifies the output count of a step whose attributes already
// passed checkShape.
func checkOutputs(k StepKind, idx int, attrs map[string]Value, got int) error {
	want := k.Outputs
	if k.Arity != nil {
		want = k.Arity(attrs)
	}
	if want != Variadic && got != want {
		return newError(ErrCodeArityMismatch, k.Name, idx, "want %d outputs, got %d", want, got)
	}
	return nil
}

func (d *Desc) fresh() string {
	for {
		n := "e" + strconv.Itoa(d.next)
		d.next++
		if !d.used[n] {
			d.used[n] = true
			return n
		}
	}
}

func (d *Desc) bind(name string, e ir.Expr) {
	d.names[name] = e
	d.ids[e] = name
}

// rebuildIDs recomputes the reverse table in record order so that each
// handle maps to the latest name bound to it.
func (d *Desc) rebuildIDs() {
	d.ids = make(map[ir.Expr]string, len(d.names))
	for _, r := range d.records {
		for _, n := range r.Outputs {
			if e, ok := d.names[n]; ok {
				d.ids[e] = n
			}
		}
	}
}

// Copy returns an independent descriptor. Every live handle in the name
// table is passed through rebase, which maps handles of the recorded
// schedule onto its clone; a nil rebase keeps handles as they are.
func (d *Desc) Copy(rebase func(ir.Expr) ir.Expr) *Desc {
	if rebase == nil {
		rebase = func(e ir.Expr) ir.Expr { return e }
	}
	c := &Desc{
		reg:     d.reg,
		records: d.Records(),
		names:   make(map[string]ir.Expr, len(d.names)),
		used:    maps.Clone(d.used),
		next:    d.next,
	}
	for n, e := range d.names {
		c.names[n] = rebase(e)
	}
	c.rebuildIDs()
	return c
}

// Replay applies every recorded step, in order, to sch. Inputs are
// resolved through a fresh name table populated with each step's outputs
// under their recorded names.
//
// Returns the handles bound to want, or the outputs of the last step when
// want is empty.
func (d *Desc) Replay(sch *schedule.Schedule, want ...string) ([]ir.Expr, error) {
	table, err := d.replay(sch)
	if err != nil {
		return nil, err
	}
	if len(want) == 0 {
		if len(d.records) == 0 {
			return nil, nil
		}
		want = d.records[len(d.records)-1].Outputs
	}
	out := make([]ir.Expr, len(want))
	for i, n := range want {
		e, ok := table[n]
		if !ok {
			return nil, newError(ErrCodeDanglingInputReference, "", -1, "name %q was not produced by replay", n)
		}
		out[i] = e
	}
	return out, nil
}

// Resume replays the descriptor against sch and adopts the resulting name
// table, so that further steps recorded against sch extend this trace.
func (d *Desc) Resume(sch *schedule.Schedule) error {
	table, err := d.replay(sch)
	if err != nil {
		return err
	}
	d.names = table
	d.rebuildIDs()
	return nil
}

func (d *Desc) replay(sch *schedule.Schedule) (map[string]ir.Expr, error) {
	table := make(map[string]ir.Expr)
	for i, rec := range d.records {
		k, err := d.reg.Lookup(rec.Type)
		if err != nil {
			var te *Error
			if errors.As(err, &te) {
				te.Step = i
			}
			return nil, err
		}
		if err := checkShape(k, i, lensOf(rec.Inputs), rec.Attrs); err != nil {
			return nil, err
		}
		step, err := resolve(rec, i, table)
		if err != nil {
			return nil, err
		}

		slog.Debug("replaying step", "index", i, "kind", rec.Type)
		outs, err := k.Invoke(sch, Args{step: &step})
		if err != nil {
			if HasCode(err, ErrCodeAttributeTypeMismatch) || HasCode(err, ErrCodeArityMismatch) {
				return nil, err
			}
			return nil, &Error{
				Code:    ErrCodeReplayDivergence,
				Message: "primitive failed on the replay target",
				Kind:    rec.Type,
				Step:    i,
				Err:     err,
			}
		}
		if len(outs) != len(rec.Outputs) {
			return nil, newError(ErrCodeArityMismatch, rec.Type, i,
				"primitive produced %d outputs, trace records %d", len(outs), len(rec.Outputs))
		}
		for j, n := range rec.Outputs {
			table[n] = outs[j]
		}
	}
	return table, nil
}

// resolve turns a record into a live step against table.
func resolve(rec Record, idx int, table map[string]ir.Expr) (Step, error) {
	step := Step{
		Kind:   rec.Type,
		Inputs: make(map[string][]ir.Expr, len(rec.Inputs)),
		Attrs:  make(map[string]Value, len(rec.Attrs)),
	}
	lookup := func(what, n string) (ir.Expr, error) {
		e, ok := table[n]
		if !ok {
			return ir.Expr{}, newError(ErrCodeDanglingInputReference, rec.Type, idx,
				"%s references %q, which no earlier step produced", what, n)
		}
		return e, nil
	}
	for _, slot := range sortedKeys(rec.Inputs) {
		names := rec.Inputs[slot]
		handles := make([]ir.Expr, len(names))
		for i, n := range names {
			e, err := lookup(fmt.Sprintf("input %q", slot), n)
			if err != nil {
				return Step{}, err
			}
			handles[i] = e
		}
		step.Inputs[slot] = handles
	}
	for _, name := range sortedKeys(rec.Attrs) {
		switch v := rec.Attrs[name].(type) {
		case Name:
			e, err := lookup(fmt.Sprintf("attribute %q", name), string(v))
			if err != nil {
				return Step{}, err
			}
			step.Attrs[name] = Expr(e)
		case Names:
			handles := make(Exprs, len(v))
			for i, n := range v {
				e, err := lookup(fmt.Sprintf("attribute %q", name), n)
				if err != nil {
					return Step{}, err
				}
				handles[i] = e
			}
			step.Attrs[name] = handles
		default:
			step.Attrs[name] = v
		}
	}
	return step, nil
}

func lensOf(inputs map[string][]string) map[string]int {
	out := make(map[string]int, len(inputs))
	for k, v := range inputs {
		out[k] = len(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
