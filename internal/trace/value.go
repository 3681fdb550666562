package trace

import (
	"fmt"
	"math"
	"slices"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/loopsched/internal/ir"
)

// ValueKind is the tag of an attribute value.
type ValueKind string

const (
	KindBool    ValueKind = "bool"
	KindInt     ValueKind = "int"
	KindFloat   ValueKind = "float"
	KindString  ValueKind = "string"
	KindInts    ValueKind = "ints"
	KindBools   ValueKind = "bools"
	KindFloats  ValueKind = "floats"
	KindStrings ValueKind = "strings"
	KindExpr    ValueKind = "expr"
	KindExprs   ValueKind = "exprs"
)

var valueKinds = map[ValueKind]bool{
	KindBool: true, KindInt: true, KindFloat: true, KindString: true,
	KindInts: true, KindBools: true, KindFloats: true, KindStrings: true,
	KindExpr: true, KindExprs: true,
}

// Value is a sealed interface over the attribute variants.
//
// Expr and Exprs hold live handles and only appear on a Step. Their
// recorded form in a Record is Name and Names, which carry the same kinds.
type Value interface {
	Kind() ValueKind
	value() // Sealed
}

type (
	Bool    bool
	Int     int64
	Float   float64
	String  string
	Ints    []int64
	Bools   []bool
	Floats  []float64
	Strings []string
	Expr    ir.Expr
	Exprs   []ir.Expr
	Name    string
	Names   []string
)

func (Bool) Kind() ValueKind    { return KindBool }
func (Int) Kind() ValueKind     { return KindInt }
func (Float) Kind() ValueKind   { return KindFloat }
func (String) Kind() ValueKind  { return KindString }
func (Ints) Kind() ValueKind    { return KindInts }
func (Bools) Kind() ValueKind   { return KindBools }
func (Floats) Kind() ValueKind  { return KindFloats }
func (Strings) Kind() ValueKind { return KindStrings }
func (Expr) Kind() ValueKind    { return KindExpr }
func (Exprs) Kind() ValueKind   { return KindExprs }
func (Name) Kind() ValueKind    { return KindExpr }
func (Names) Kind() ValueKind   { return KindExprs }

func (Bool) value()    {}
func (Int) value()     {}
func (Float) value()   {}
func (String) value()  {}
func (Ints) value()    {}
func (Bools) value()   {}
func (Floats) value()  {}
func (Strings) value() {}
func (Expr) value()    {}
func (Exprs) value()   {}
func (Name) value()    {}
func (Names) value()   {}

func as[T Value](v Value, want ValueKind) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		got := "missing"
		if v != nil {
			got = string(v.Kind())
		}
		return zero, &Error{
			Code:    ErrCodeAttributeTypeMismatch,
			Message: fmt.Sprintf("want %s, got %s", want, got),
			Step:    -1,
		}
	}
	return t, nil
}

// AsBool reads a bool value.
func AsBool(v Value) (bool, error) {
	b, err := as[Bool](v, KindBool)
	return bool(b), err
}

// AsInt reads an int value.
func AsInt(v Value) (int64, error) {
	i, err := as[Int](v, KindInt)
	return int64(i), err
}

// AsFloat reads a float value.
func AsFloat(v Value) (float64, error) {
	f, err := as[Float](v, KindFloat)
	return float64(f), err
}

// AsString reads a string value.
func AsString(v Value) (string, error) {
	s, err := as[String](v, KindString)
	return string(s), err
}

// AsInts reads an int sequence.
func AsInts(v Value) ([]int64, error) {
	s, err := as[Ints](v, KindInts)
	return slices.Clone([]int64(s)), err
}

// AsBools reads a bool sequence.
func AsBools(v Value) ([]bool, error) {
	s, err := as[Bools](v, KindBools)
	return slices.Clone([]bool(s)), err
}

// AsFloats reads a float sequence.
func AsFloats(v Value) ([]float64, error) {
	s, err := as[Floats](v, KindFloats)
	return slices.Clone([]float64(s)), err
}

// AsStrings reads a string sequence.
func AsStrings(v Value) ([]string, error) {
	s, err := as[Strings](v, KindStrings)
	return slices.Clone([]string(s)), err
}

// AsExpr reads a live expression handle.
func AsExpr(v Value) (ir.Expr, error) {
	e, err := as[Expr](v, KindExpr)
	return ir.Expr(e), err
}

// AsExprs reads a sequence of live expression handles.
func AsExprs(v Value) ([]ir.Expr, error) {
	s, err := as[Exprs](v, KindExprs)
	return slices.Clone([]ir.Expr(s)), err
}

// cloneValue deep-copies v. Strings are NFC normalized so a recorded value
// survives canonical export unchanged. Nil sequences become empty ones.
func cloneValue(v Value) Value {
	switch val := v.(type) {
	case String:
		return String(norm.NFC.String(string(val)))
	case Ints:
		return Ints(append([]int64{}, val...))
	case Bools:
		return Bools(append([]bool{}, val...))
	case Floats:
		return Floats(append([]float64{}, val...))
	case Strings:
		out := make(Strings, len(val))
		for i, s := range val {
			out[i] = norm.NFC.String(s)
		}
		return out
	case Exprs:
		return Exprs(append([]ir.Expr{}, val...))
	case Names:
		return Names(append([]string{}, val...))
	default:
		return v
	}
}

// unencodable describes why v has no exact canonical JSON form, or returns
// "" when it has one.
func unencodable(v Value) string {
	var floats []float64
	var strs []string
	switch val := v.(type) {
	case Float:
		floats = []float64{float64(val)}
	case Floats:
		floats = val
	case String:
		strs = []string{string(val)}
	case Strings:
		strs = val
	case Name:
		strs = []string{string(val)}
	case Names:
		strs = val
	}
	for _, f := range floats {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("holds %v, which has no JSON form", f)
		}
	}
	for _, s := range strs {
		if !utf8.ValidString(s) {
			return fmt.Sprintf("holds invalid UTF-8 %q", s)
		}
	}
	return ""
}
