package trace

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Record is the serialized form of a Step: handles are replaced by the
// names the descriptor assigned to them.
type Record struct {
	Type    string              `json:"type"`
	Inputs  map[string][]string `json:"inputs"`
	Attrs   map[string]Value    `json:"attrs"`
	Outputs []string            `json:"outputs"`
}

func (r Record) clone() Record {
	out := Record{
		Type:    r.Type,
		Inputs:  make(map[string][]string, len(r.Inputs)),
		Attrs:   make(map[string]Value, len(r.Attrs)),
		Outputs: append([]string{}, r.Outputs...),
	}
	for k, v := range r.Inputs {
		out.Inputs[k] = append([]string{}, v...)
	}
	for k, v := range r.Attrs {
		out.Attrs[k] = cloneValue(v)
	}
	return out
}

// Trace is the exported, flat form of a descriptor.
type Trace struct {
	Version string   `json:"version"`
	Steps   []Record `json:"steps"`
}

// Export returns the descriptor's steps in replay order. The name table is
// not part of the export; Replay rebuilds it.
func (d *Desc) Export() Trace {
	return Trace{Version: TraceVersion, Steps: d.Records()}
}

// Import builds a descriptor from an exported trace. Every record is checked
// against the registry, and every referenced name must be an output of an
// earlier record. The imported descriptor has no live handles until it is
// resumed against a schedule.
func Import(t Trace, opts ...Option) (*Desc, error) {
	if t.Version != TraceVersion {
		return nil, fmt.Errorf("import trace: unsupported version %q (want %q)", t.Version, TraceVersion)
	}
	d := NewDesc(opts...)
	known := make(map[string]bool)
	for i, rec := range t.Steps {
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
		if err := checkOutputs(k, i, rec.Attrs, len(rec.Outputs)); err != nil {
			return nil, err
		}
		for _, slot := range sortedKeys(rec.Inputs) {
			for _, n := range rec.Inputs[slot] {
				if !known[n] {
					return nil, newError(ErrCodeDanglingInputReference, rec.Type, i,
						"input %q references %q, which no earlier step produced", slot, n)
				}
			}
		}
		for _, name := range sortedKeys(rec.Attrs) {
			var refs []string
			switch v := rec.Attrs[name].(type) {
			case Name:
				refs = []string{string(v)}
			case Names:
				refs = v
			case Expr, Exprs:
				return nil, newError(ErrCodeAttributeTypeMismatch, rec.Type, i,
					"attribute %q holds a live handle, want a recorded name", name)
			}
			for _, n := range refs {
				if !known[n] {
					return nil, newError(ErrCodeDanglingInputReference, rec.Type, i,
						"attribute %q references %q, which no earlier step produced", name, n)
				}
			}
		}
		for _, n := range rec.Outputs {
			known[n] = true
			d.used[n] = true
		}
		d.records = append(d.records, rec.clone())
	}
	return d, nil
}

// Tree converts the trace into the generic form accepted by
// MarshalCanonical.
func (t Trace) Tree() (map[string]any, error) {
	steps := make([]any, len(t.Steps))
	for i, r := range t.Steps {
		inputs := make(map[string]any, len(r.Inputs))
		for slot, names := range r.Inputs {
			inputs[slot] = stringsAny(names)
		}
		attrs := make(map[string]any, len(r.Attrs))
		for name, v := range r.Attrs {
			a, err := attrTree(v)
			if err != nil {
				return nil, fmt.Errorf("step %d attribute %q: %w", i, name, err)
			}
			attrs[name] = a
		}
		steps[i] = map[string]any{
			"type":    r.Type,
			"inputs":  inputs,
			"attrs":   attrs,
			"outputs": stringsAny(r.Outputs),
		}
	}
	return map[string]any{"version": t.Version, "steps": steps}, nil
}

// attrTree encodes a value as {"kind": ..., "value": ...}.
func attrTree(v Value) (map[string]any, error) {
	var payload any
	switch val := v.(type) {
	case Bool:
		payload = bool(val)
	case Int:
		payload = int64(val)
	case Float:
		payload = float64(val)
	case String:
		payload = string(val)
	case Ints:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = x
		}
		payload = out
	case Bools:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = x
		}
		payload = out
	case Floats:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = x
		}
		payload = out
	case Strings:
		payload = stringsAny(val)
	case Name:
		payload = string(val)
	case Names:
		payload = stringsAny(val)
	case Expr, Exprs:
		return nil, fmt.Errorf("live handles cannot be serialized")
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
	return map[string]any{"kind": string(v.Kind()), "value": payload}, nil
}

func stringsAny(s []string) []any {
	out := make([]any, len(s))
	for i, x := range s {
		out[i] = x
	}
	return out
}

// MarshalCanonical returns the RFC 8785 canonical JSON encoding of t.
// Equal traces always produce identical bytes.
func (t Trace) MarshalCanonical() ([]byte, error) {
	tree, err := t.Tree()
	if err != nil {
		return nil, err
	}
	return marshalCanonical(tree)
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (t Trace) MarshalJSON() ([]byte, error) {
	return t.MarshalCanonical()
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Trace) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTrace(data)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type rawTrace struct {
	Version string      `json:"version"`
	Steps   []rawRecord `json:"steps"`
}

type rawRecord struct {
	Type    string              `json:"type"`
	Inputs  map[string][]string `json:"inputs"`
	Attrs   map[string]rawAttr  `json:"attrs"`
	Outputs []string            `json:"outputs"`
}

type rawAttr struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// ParseTrace decodes a serialized trace. Numbers are decoded through
// json.Number so int64 values never pass through float64.
func ParseTrace(data []byte) (Trace, error) {
	var raw rawTrace
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Trace{}, fmt.Errorf("parse trace: %w", err)
	}

	t := Trace{Version: raw.Version, Steps: make([]Record, len(raw.Steps))}
	for i, r := range raw.Steps {
		rec := Record{
			Type:    r.Type,
			Inputs:  make(map[string][]string, len(r.Inputs)),
			Attrs:   make(map[string]Value, len(r.Attrs)),
			Outputs: append([]string{}, r.Outputs...),
		}
		for slot, names := range r.Inputs {
			rec.Inputs[slot] = append([]string{}, names...)
		}
		for name, a := range r.Attrs {
			v, err := decodeAttr(a)
			if err != nil {
				return Trace{}, fmt.Errorf("parse trace: step %d attribute %q: %w", i, name, err)
			}
			rec.Attrs[name] = v
		}
		t.Steps[i] = rec
	}
	return t, nil
}

func decodeAttr(a rawAttr) (Value, error) {
	if !valueKinds[a.Kind] {
		return nil, fmt.Errorf("unknown kind %q", a.Kind)
	}
	if len(a.Value) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	var payload any
	dec := json.NewDecoder(bytes.NewReader(a.Value))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}

	switch a.Kind {
	case KindBool:
		b, ok := payload.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", payload)
		}
		return Bool(b), nil
	case KindInt:
		n, err := toInt(payload)
		return Int(n), err
	case KindFloat:
		f, err := toFloat(payload)
		return Float(f), err
	case KindString, KindExpr:
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", payload)
		}
		if a.Kind == KindExpr {
			return Name(s), nil
		}
		return String(s), nil
	}

	list, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("kind %s wants an array, got %T", a.Kind, payload)
	}
	switch a.Kind {
	case KindInts:
		out := make(Ints, len(list))
		for i, x := range list {
			n, err := toInt(x)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case KindBools:
		out := make(Bools, len(list))
		for i, x := range list {
			b, ok := x.(bool)
			if !ok {
				return nil, fmt.Errorf("[%d]: want bool, got %T", i, x)
			}
			out[i] = b
		}
		return out, nil
	case KindFloats:
		out := make(Floats, len(list))
		for i, x := range list {
			f, err := toFloat(x)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	default: // KindStrings, KindExprs
		out := make([]string, len(list))
		for i, x := range list {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("[%d]: want string, got %T", i, x)
			}
			out[i] = s
		}
		if a.Kind == KindExprs {
			return Names(out), nil
		}
		return Strings(out), nil
	}
}

func toInt(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("want integer, got %T", v)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("want integer, got %s", n)
	}
	return i, nil
}

func toFloat(v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("want number, got %T", v)
	}
	return n.Float64()
}
