package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/loopsched/internal/codegen"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/store"
	"github.com/roach88/loopsched/internal/trace"
)

// AssertionContext carries what assertions need beyond the result itself.
type AssertionContext struct {
	Ctx       context.Context
	Store     *store.Store
	SessionID string
	// Build returns a fresh module of the scenario's workload.
	Build func() (*ir.Module, error)
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Steps    []string // Step kinds of the checked leaf
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, s := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s\n", i, s)
		}
	}
	return buf.String()
}

func leafAt(result *Result, a Assertion) (LeafResult, error) {
	if a.Leaf >= len(result.Leaves) {
		return LeafResult{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("leaf %d", a.Leaf),
			Actual:   fmt.Sprintf("%d leaves", len(result.Leaves)),
		}
	}
	return result.Leaves[a.Leaf], nil
}

func assertLeafCount(result *Result, a Assertion) error {
	if len(result.Leaves) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d leaves", a.Count),
			Actual:   fmt.Sprintf("%d leaves (%d discarded)", len(result.Leaves), result.Discarded),
		}
	}
	return nil
}

// assertTraceContains checks the leaf has a step of the given kind, with a
// matching attribute if one is named.
func assertTraceContains(leaf LeafResult, a Assertion) error {
	for _, r := range leaf.Trace.Steps {
		if r.Type != a.Step {
			continue
		}
		if a.Attr == "" {
			return nil
		}
		if v, ok := r.Attrs[a.Attr]; ok && formatValue(v) == a.Value {
			return nil
		}
	}
	want := a.Step
	if a.Attr != "" {
		want = fmt.Sprintf("%s with %s=%s", a.Step, a.Attr, a.Value)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: want,
		Actual:   "not found",
		Steps:    leaf.StepTypes(),
	}
}

// assertTraceOrder checks the step kinds appear as a subsequence.
func assertTraceOrder(leaf LeafResult, a Assertion) error {
	next := 0
	for _, s := range leaf.StepTypes() {
		if next < len(a.Steps) && s == a.Steps[next] {
			next++
		}
	}
	if next == len(a.Steps) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: strings.Join(a.Steps, " → "),
		Actual:   fmt.Sprintf("matched %d of %d", next, len(a.Steps)),
		Steps:    leaf.StepTypes(),
	}
}

func assertTraceCount(leaf LeafResult, a Assertion) error {
	n := 0
	for _, s := range leaf.StepTypes() {
		if s == a.Step {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s × %d", a.Step, a.Count),
			Actual:   fmt.Sprintf("%s × %d", a.Step, n),
			Steps:    leaf.StepTypes(),
		}
	}
	return nil
}

func assertContains(haystack string, a Assertion) error {
	if strings.Contains(haystack, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("text %q", a.Text),
		Actual:   "\n" + haystack,
	}
}

// assertReplayIdentical restores the leaf from the store twice and checks
// both replays reproduce the leaf's dump and emitted source.
func assertReplayIdentical(leaf LeafResult, a Assertion, actx *AssertionContext) error {
	for run := 1; run <= 2; run++ {
		m, err := actx.Build()
		if err != nil {
			return err
		}
		st, err := actx.Store.RestoreState(actx.Ctx, actx.SessionID, leaf.TraceID, m)
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: "replay succeeds", Actual: err.Error(), Steps: leaf.StepTypes()}
		}
		if got := ir.Dump(st.Module()); got != leaf.Dump {
			return &AssertionError{
				Type:     a.Type,
				Expected: "\n" + leaf.Dump,
				Actual:   fmt.Sprintf("replay %d:\n%s", run, got),
				Steps:    leaf.StepTypes(),
			}
		}
		src, err := codegen.Emit(st.Module())
		if err != nil {
			return err
		}
		if src != leaf.Source {
			return &AssertionError{
				Type:     a.Type,
				Expected: "\n" + leaf.Source,
				Actual:   fmt.Sprintf("replay %d:\n%s", run, src),
				Steps:    leaf.StepTypes(),
			}
		}
	}
	return nil
}

// formatValue renders an attribute value the way scenario files write it:
// scalars as-is, sequences comma-separated.
func formatValue(v trace.Value) string {
	switch val := v.(type) {
	case trace.Bool:
		return strconv.FormatBool(bool(val))
	case trace.Int:
		return strconv.FormatInt(int64(val), 10)
	case trace.Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case trace.String:
		return string(val)
	case trace.Name:
		return string(val)
	case trace.Ints:
		parts := make([]string, len(val))
		for i, x := range val {
			parts[i] = strconv.FormatInt(x, 10)
		}
		return strings.Join(parts, ",")
	case trace.Strings:
		return strings.Join(val, ",")
	case trace.Names:
		return strings.Join(val, ",")
	}
	return fmt.Sprint(v)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		if a.Type == AssertLeafCount {
			err = assertLeafCount(result, a)
		} else if leaf, lerr := leafAt(result, a); lerr != nil {
			err = lerr
		} else {
			switch a.Type {
			case AssertTraceContains:
				err = assertTraceContains(leaf, a)
			case AssertTraceOrder:
				err = assertTraceOrder(leaf, a)
			case AssertTraceCount:
				err = assertTraceCount(leaf, a)
			case AssertDumpContains:
				err = assertContains(leaf.Dump, a)
			case AssertSourceContains:
				err = assertContains(leaf.Source, a)
			case AssertReplayIdentical:
				err = assertReplayIdentical(leaf, a, actx)
			default:
				err = fmt.Errorf("unknown assertion type %q", a.Type)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}
