package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/loopsched/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Workload errors (E101-E109)
	ErrWorkloadNameEmpty = "E101" // name is required
	ErrNoStages          = "E102" // at least one stage required
	ErrDuplicateName     = "E103" // duplicate stage or axis name
	ErrUnknownOp         = "E104" // op is not a known computation
	ErrInputArity        = "E105" // wrong number of inputs for op
	ErrInvalidExtent     = "E106" // axis extent must be positive

	// Stage structure errors (E110-E119)
	ErrReduceMismatch   = "E110" // reduce axes do not match op
	ErrNoSpatialAxis    = "E111" // stage needs a spatial axis
	ErrUnknownAxis      = "E112" // input indexed by an undeclared axis
	ErrForwardReference = "E113" // input produced by a later stage
	ErrStageCycle       = "E114" // stages read each other
	ErrShapeConflict    = "E115" // inferred tensor shapes disagree
)

var knownOps = map[ir.Op]int{
	ir.OpCopy: 1,
	ir.OpAdd:  2,
	ir.OpMul:  2,
	ir.OpSum:  1,
	ir.OpDot:  2,
}

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled workload.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch w := v.(type) {
	case *ir.Workload:
		return validateWorkload(w)
	case ir.Workload:
		return validateWorkload(&w)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateWorkload(w *ir.Workload) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(w.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "workload name is required",
			Code:    ErrWorkloadNameEmpty,
		})
	}
	if len(w.Stages) == 0 {
		return append(errs, ValidationError{
			Field:   "stages",
			Message: "at least one stage is required",
			Code:    ErrNoStages,
		})
	}

	index := make(map[string]int, len(w.Stages))
	for i, s := range w.Stages {
		if _, dup := index[s.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("stages[%d].name", i),
				Message: fmt.Sprintf("duplicate stage %q", s.Name),
				Code:    ErrDuplicateName,
			})
			continue
		}
		index[s.Name] = i
	}

	for i, s := range w.Stages {
		errs = append(errs, validateStage(i, s, index)...)
	}

	for _, c := range AnalyzeCycles(*w) {
		errs = append(errs, ValidationError{
			Field:   "stages",
			Message: c.Message,
			Code:    ErrStageCycle,
		})
	}

	// Shape inference only runs on an otherwise clean workload.
	if len(errs) == 0 {
		if err := w.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Field:   "stages",
				Message: err.Error(),
				Code:    ErrShapeConflict,
			})
		}
	}
	return errs
}

func validateStage(i int, s ir.Stage, index map[string]int) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("stages[%d]", i)
	if s.Name != "" {
		field = fmt.Sprintf("stage.%s", s.Name)
	}

	want, ok := knownOps[s.Op]
	if !ok {
		errs = append(errs, ValidationError{
			Field:   field + ".op",
			Message: fmt.Sprintf("unknown op %q", s.Op),
			Code:    ErrUnknownOp,
		})
	} else if len(s.Inputs) != want {
		errs = append(errs, ValidationError{
			Field:   field + ".inputs",
			Message: fmt.Sprintf("op %s takes %d inputs, got %d", s.Op, want, len(s.Inputs)),
			Code:    ErrInputArity,
		})
	}

	axes := make(map[string]bool, len(s.Axes))
	spatial, reduce := 0, 0
	for j, a := range s.Axes {
		af := fmt.Sprintf("%s.axes[%d]", field, j)
		if axes[a.Name] {
			errs = append(errs, ValidationError{
				Field:   af,
				Message: fmt.Sprintf("duplicate axis %q", a.Name),
				Code:    ErrDuplicateName,
			})
		}
		axes[a.Name] = true
		if a.Extent <= 0 {
			errs = append(errs, ValidationError{
				Field:   af + ".extent",
				Message: fmt.Sprintf("extent must be positive, got %d", a.Extent),
				Code:    ErrInvalidExtent,
			})
		}
		if a.IsReduce() {
			reduce++
		} else {
			spatial++
		}
	}
	if spatial == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".axes",
			Message: "at least one spatial axis is required",
			Code:    ErrNoSpatialAxis,
		})
	}
	if ok {
		reduces := s.Op == ir.OpSum || s.Op == ir.OpDot
		if reduces && reduce == 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".axes",
				Message: fmt.Sprintf("op %s needs at least one reduce axis", s.Op),
				Code:    ErrReduceMismatch,
			})
		}
		if !reduces && reduce > 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".axes",
				Message: fmt.Sprintf("op %s does not take reduce axes", s.Op),
				Code:    ErrReduceMismatch,
			})
		}
	}

	for k, in := range s.Inputs {
		inf := fmt.Sprintf("%s.inputs[%d]", field, k)
		for _, ax := range in.Axes {
			if !axes[ax] {
				errs = append(errs, ValidationError{
					Field:   inf,
					Message: fmt.Sprintf("input %q uses unknown axis %q", in.Tensor, ax),
					Code:    ErrUnknownAxis,
				})
			}
		}
		if p, produced := index[in.Tensor]; produced && p >= i {
			errs = append(errs, ValidationError{
				Field:   inf,
				Message: fmt.Sprintf("input %q is not produced before this stage", in.Tensor),
				Code:    ErrForwardReference,
			})
		}
	}
	return errs
}
