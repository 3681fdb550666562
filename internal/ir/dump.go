package ir

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Dump renders the module as deterministic text.
//
// Two modules are structurally equal iff their dumps are equal: the dump
// covers every function, loop kind, binding, schedule block, iter var
// binding and statement, and never mentions handle identity.
func Dump(m *Module) string {
	p := &printer{m: m}
	for i, f := range m.funcs {
		if i > 0 {
			p.buf.WriteByte('\n')
		}
		p.printFunc(f)
	}
	return p.buf.String()
}

// DumpExpr renders a single node reachable from m.
func DumpExpr(m *Module, e Expr) string {
	p := &printer{m: m}
	switch m.Kind(e) {
	case KindFor, KindBlock, KindIfThenElse, KindScheduleBlockRealize, KindStore:
		p.printStmt(e)
		return strings.TrimRight(p.buf.String(), "\n")
	default:
		return p.expr(e)
	}
}

type printer struct {
	m      *Module
	buf    bytes.Buffer
	indent int
}

func (p *printer) writef(format string, args ...any) {
	p.buf.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.buf, format, args...)
}

func (p *printer) printFunc(f Func) {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		dims := make([]string, len(a.Shape))
		for j, d := range a.Shape {
			dims[j] = strconv.FormatInt(d, 10)
		}
		prefix := ""
		if a.Output {
			prefix = "out "
		}
		args[i] = fmt.Sprintf("%s%s[%s]", prefix, a.Name, strings.Join(dims, ", "))
	}
	p.writef("function %s(%s)\n", f.Name, strings.Join(args, ", "))
	p.printStmt(f.Body)
}

func (p *printer) printStmt(e Expr) {
	n := p.m.node(e)
	if n == nil {
		p.writef("<undefined>\n")
		return
	}
	switch n.kind {
	case KindBlock:
		p.writef("{\n")
		p.indent++
		for _, s := range n.list {
			p.printStmt(s)
		}
		p.indent--
		p.writef("}\n")
	case KindFor:
		head := fmt.Sprintf("%s for (%s, 0, %d)", n.forType, p.expr(n.x), n.ival)
		if n.bind != "" {
			head += " bind(" + n.bind + ")"
		}
		p.writef("%s\n", head)
		p.printStmt(n.y)
	case KindIfThenElse:
		p.writef("if %s\n", p.expr(n.x))
		p.printStmt(n.y)
	case KindScheduleBlockRealize:
		sb := p.m.node(n.x)
		if sb == nil || sb.kind != KindScheduleBlock {
			p.writef("<malformed realize>\n")
			return
		}
		binds := make([]string, len(sb.list))
		for i, iv := range sb.list {
			val := "?"
			if i < len(n.list) {
				val = p.expr(n.list[i])
			}
			name := p.expr(iv)
			if v, ok := p.m.AsVar(iv); ok && v.Reduce {
				name = "reduce " + name
			}
			binds[i] = name + " = " + val
		}
		p.writef("ScheduleBlock(%s) [%s]\n", sb.name, strings.Join(binds, ", "))
		p.printStmt(sb.x)
	case KindStore:
		p.writef("%s[%s] = %s\n", n.name, p.exprList(n.list), p.expr(n.x))
	default:
		p.writef("%s\n", p.expr(e))
	}
}

func (p *printer) exprList(list []Expr) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = p.expr(e)
	}
	return strings.Join(parts, ", ")
}

var binaryOps = map[Kind]string{
	KindAdd: "+",
	KindSub: "-",
	KindMul: "*",
	KindDiv: "/",
	KindMod: "%",
	KindLT:  "<",
}

func (p *printer) expr(e Expr) string {
	n := p.m.node(e)
	if n == nil {
		return "<undefined>"
	}
	switch n.kind {
	case KindVar:
		return n.name
	case KindInt:
		return strconv.FormatInt(n.ival, 10)
	case KindFloat:
		return strconv.FormatFloat(n.fval, 'g', -1, 64)
	case KindLoad:
		return fmt.Sprintf("%s[%s]", n.name, p.exprList(n.list))
	}
	if op, ok := binaryOps[n.kind]; ok {
		return fmt.Sprintf("(%s %s %s)", p.expr(n.x), op, p.expr(n.y))
	}
	return "<" + n.kind.String() + ">"
}
