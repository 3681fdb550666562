// Package codegen emits CUDA-like C source for a scheduled module.
//
// The output is deterministic: the same module always produces the same
// bytes, which is what replay verification compares.
package codegen

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/loopsched/internal/ir"
)

// Emit renders every function of m.
func Emit(m *ir.Module) (string, error) {
	e := &emitter{m: m, buf: &bytes.Buffer{}}
	for i, f := range m.Funcs() {
		if i > 0 {
			e.buf.WriteByte('\n')
		}
		if err := e.emitFunc(f); err != nil {
			return "", fmt.Errorf("emit %s: %w", f.Name, err)
		}
	}
	return e.buf.String(), nil
}

type emitter struct {
	m      *ir.Module
	buf    *bytes.Buffer
	indent int

	shapes map[string][]int64
	// iter var handle -> bound value, for the realizes in scope
	env map[ir.Expr]ir.Expr
}

func (e *emitter) writef(format string, args ...any) {
	e.buf.WriteString(strings.Repeat("  ", e.indent))
	fmt.Fprintf(e.buf, format, args...)
}

func (e *emitter) emitFunc(f ir.Func) error {
	e.shapes = make(map[string][]int64, len(f.Args))
	e.env = make(map[ir.Expr]ir.Expr)
	params := make([]string, len(f.Args))
	for i, a := range f.Args {
		e.shapes[a.Name] = a.Shape
		if a.Output {
			params[i] = "float* __restrict__ " + a.Name
		} else {
			params[i] = "const float* __restrict__ " + a.Name
		}
	}
	e.writef("__global__ void %s(%s)\n", f.Name, strings.Join(params, ", "))
	return e.stmt(f.Body)
}

func (e *emitter) stmt(s ir.Expr) error {
	switch e.m.Kind(s) {
	case ir.KindBlock:
		stmts, _ := e.m.AsBlock(s)
		e.writef("{\n")
		e.indent++
		for _, c := range stmts {
			if err := e.stmt(c); err != nil {
				return err
			}
		}
		e.indent--
		e.writef("}\n")
		return nil

	case ir.KindFor:
		return e.loop(s)

	case ir.KindIfThenElse:
		cond, then, _ := e.m.AsIfThenElse(s)
		c, err := e.expr(cond)
		if err != nil {
			return err
		}
		e.writef("if %s\n", c)
		return e.stmt(then)

	case ir.KindScheduleBlockRealize:
		r, _ := e.m.AsRealize(s)
		sb, ok := e.m.AsScheduleBlock(r.ScheduleBlock)
		if !ok || len(sb.IterVars) != len(r.IterValues) {
			return fmt.Errorf("malformed schedule block realize")
		}
		for i, iv := range sb.IterVars {
			e.env[iv] = r.IterValues[i]
		}
		err := e.stmt(sb.Body)
		for _, iv := range sb.IterVars {
			delete(e.env, iv)
		}
		return err

	case ir.KindStore:
		acc, _ := e.m.AsAccess(s)
		idx, err := e.flatIndex(acc)
		if err != nil {
			return err
		}
		v, err := e.expr(acc.Value)
		if err != nil {
			return err
		}
		e.writef("%s[%s] = %s;\n", acc.Tensor, idx, v)
		return nil
	}
	return fmt.Errorf("unexpected statement %s", e.m.Kind(s))
}

func (e *emitter) loop(s ir.Expr) error {
	f, _ := e.m.AsFor(s)
	v, ok := e.m.AsVar(f.Var)
	if !ok {
		return fmt.Errorf("loop variable is a %s", e.m.Kind(f.Var))
	}
	if f.IsBound() {
		e.writef("if (%s < %d)\n", f.BindDim, f.Extent)
		e.writef("{\n")
		e.indent++
		e.writef("int32_t %s = %s;\n", v.Name, f.BindDim)
		if err := e.stmt(f.Body); err != nil {
			return err
		}
		e.indent--
		e.writef("}\n")
		return nil
	}
	switch f.Type {
	case ir.Parallel:
		e.writef("#pragma omp parallel for\n")
	case ir.Unrolled:
		e.writef("#pragma unroll\n")
	}
	e.writef("for (int32_t %s = 0; %s < %d; %s += 1)\n", v.Name, v.Name, f.Extent, v.Name)
	return e.stmt(f.Body)
}

// flatIndex linearizes a multi-dimensional access in row-major order.
func (e *emitter) flatIndex(acc ir.AccessNode) (string, error) {
	shape, ok := e.shapes[acc.Tensor]
	if !ok {
		return "", fmt.Errorf("unknown tensor %q", acc.Tensor)
	}
	if len(shape) != len(acc.Indices) {
		return "", fmt.Errorf("tensor %q has rank %d, accessed with %d indices", acc.Tensor, len(shape), len(acc.Indices))
	}
	out, err := e.expr(acc.Indices[0])
	if err != nil {
		return "", err
	}
	for i := 1; i < len(shape); i++ {
		idx, err := e.expr(acc.Indices[i])
		if err != nil {
			return "", err
		}
		out = fmt.Sprintf("((%s * %d) + %s)", out, shape[i], idx)
	}
	return out, nil
}

var binaryOps = map[ir.Kind]string{
	ir.KindAdd: "+",
	ir.KindSub: "-",
	ir.KindMul: "*",
	ir.KindDiv: "/",
	ir.KindMod: "%",
	ir.KindLT:  "<",
}

func (e *emitter) expr(x ir.Expr) (string, error) {
	switch e.m.Kind(x) {
	case ir.KindVar:
		if val, ok := e.env[x]; ok {
			return e.expr(val)
		}
		v, _ := e.m.AsVar(x)
		return v.Name, nil
	case ir.KindInt:
		n, _ := e.m.AsInt(x)
		return strconv.FormatInt(n, 10), nil
	case ir.KindFloat:
		f, _ := e.m.AsFloat(x)
		return floatLiteral(f), nil
	case ir.KindLoad:
		acc, _ := e.m.AsAccess(x)
		idx, err := e.flatIndex(acc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%s]", acc.Tensor, idx), nil
	}
	op, ok := binaryOps[e.m.Kind(x)]
	if !ok {
		return "", fmt.Errorf("unexpected expression %s", e.m.Kind(x))
	}
	a, b, _ := e.m.Operands(x)
	as, err := e.expr(a)
	if err != nil {
		return "", err
	}
	bs, err := e.expr(b)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", as, op, bs), nil
}

func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s + "f"
}
