package compiler

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/loopsched/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// CompileWorkload parses a CUE value into a Workload.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the workload struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workload: copy: { stages: [...] }`)
//	w, err := CompileWorkload(v.LookupPath(cue.ParsePath("workload.copy")))
//
// The value is first unified with the #Workload schema, so type errors and
// unknown fields are reported with CUE source positions.
func CompileWorkload(v cue.Value) (*ir.Workload, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile workload schema: %w", err)
	}
	u := schema.LookupPath(cue.ParsePath("#Workload")).Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	w := &ir.Workload{}

	// Workload name is the struct label, possibly quoted
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		w.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if w.Name == "" {
		return nil, &CompileError{Field: "name", Message: "workload must be a labelled struct", Pos: v.Pos()}
	}

	if fn := u.LookupPath(cue.ParsePath("function")); fn.Exists() {
		s, err := fn.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		w.Function = s
	}

	stages, err := parseStages(u.LookupPath(cue.ParsePath("stages")))
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, &CompileError{
			Field:   "stages",
			Message: "at least one stage is required",
			Pos:     v.Pos(),
		}
	}
	w.Stages = stages
	return w, nil
}

// parseStages extracts the stage list in declaration order.
func parseStages(v cue.Value) ([]ir.Stage, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var stages []ir.Stage
	for iter.Next() {
		sv := iter.Value()
		var s ir.Stage

		if s.Name, err = stringField(sv, "name"); err != nil {
			return nil, err
		}
		op, err := stringField(sv, "op")
		if err != nil {
			return nil, err
		}
		s.Op = ir.Op(op)

		if s.Axes, err = parseAxes(sv.LookupPath(cue.ParsePath("axes"))); err != nil {
			return nil, err
		}
		if s.Inputs, err = parseInputs(sv.LookupPath(cue.ParsePath("inputs"))); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func parseAxes(v cue.Value) ([]ir.Axis, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var axes []ir.Axis
	for iter.Next() {
		av := iter.Value()
		var a ir.Axis
		if a.Name, err = stringField(av, "name"); err != nil {
			return nil, err
		}
		a.Extent, err = av.LookupPath(cue.ParsePath("extent")).Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if rv := av.LookupPath(cue.ParsePath("reduce")); rv.Exists() {
			if a.Reduce, err = rv.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		axes = append(axes, a)
	}
	return axes, nil
}

func parseInputs(v cue.Value) ([]ir.Access, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var inputs []ir.Access
	for iter.Next() {
		iv := iter.Value()
		var in ir.Access
		if in.Tensor, err = stringField(iv, "tensor"); err != nil {
			return nil, err
		}
		axIter, err := iv.LookupPath(cue.ParsePath("axes")).List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for axIter.Next() {
			name, err := axIter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			in.Axes = append(in.Axes, name)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func stringField(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
