package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/loopsched/internal/compiler"
	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/target"
)

// Scenario defines a conformance test scenario: a workload explored with a
// rule list under a target, and assertions on the resulting leaves.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is a CUE workload file. Relative paths are resolved against the
	// scenario file's directory.
	Spec string `yaml:"spec,omitempty"`

	// WorkloadName selects a workload from Spec. May be empty when Spec
	// defines exactly one.
	WorkloadName string `yaml:"workload_name,omitempty"`

	// Workload is an inline alternative to Spec.
	Workload *ir.Workload `yaml:"workload,omitempty"`

	// Target overrides target.DefaultNVGPU().
	Target *target.Target `yaml:"target,omitempty"`

	// Rules lists the generation rules to explore with, in priority order.
	Rules []string `yaml:"rules"`

	// SessionID is an optional fixed session ID. Defaults to
	// "test-session-default" so store rows are reproducible.
	SessionID string `yaml:"session_id,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one leaf of the exploration result.
type Assertion struct {
	// Type specifies the assertion type:
	// - "leaf_count": exploration produced exactly Count leaves
	// - "trace_contains": a step of kind Step exists, optionally with Attr == Value
	// - "trace_order": the Steps kinds appear in this relative order
	// - "trace_count": kind Step appears exactly Count times
	// - "dump_contains": the IR dump contains Text
	// - "source_contains": the emitted source contains Text
	// - "replay_identical": replaying the stored trace twice on fresh IR
	//   reproduces the leaf's dump and source
	Type string `yaml:"type"`

	// Leaf selects the leaf to check (default 0).
	Leaf int `yaml:"leaf,omitempty"`

	Step  string   `yaml:"step,omitempty"`
	Attr  string   `yaml:"attr,omitempty"`
	Value string   `yaml:"value,omitempty"`
	Steps []string `yaml:"steps,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Text  string   `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertLeafCount       = "leaf_count"
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertDumpContains    = "dump_contains"
	AssertSourceContains  = "source_contains"
	AssertReplayIdentical = "replay_identical"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the spec path relative to the provided base path.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) && basePath != "" {
		scenario.Spec = filepath.Join(basePath, scenario.Spec)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ResolveWorkload returns the scenario's workload, compiling Spec if the
// workload is not inline.
func (s *Scenario) ResolveWorkload() (*ir.Workload, error) {
	if s.Workload != nil {
		if errs := compiler.Validate(s.Workload); len(errs) > 0 {
			return nil, &compiler.InvalidWorkloadError{Name: s.Workload.Name, Errors: errs}
		}
		return s.Workload, nil
	}
	return compiler.LoadWorkload(s.Spec, s.WorkloadName)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Spec == "" && s.Workload == nil:
		return fmt.Errorf("one of spec or workload is required")
	case s.Spec != "" && s.Workload != nil:
		return fmt.Errorf("spec and workload are mutually exclusive")
	}
	if s.Spec != "" {
		if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", s.Spec)
		}
	}
	if s.Target != nil {
		if err := s.Target.Validate(); err != nil {
			return err
		}
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Leaf < 0 {
		return fmt.Errorf("assertions[%d]: leaf must be non-negative", index)
	}
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLeafCount, AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		if a.Type == AssertTraceCount && a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
		if (a.Attr == "") != (a.Value == "") {
			return fmt.Errorf("assertions[%d]: attr and value go together for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertDumpContains, AssertSourceContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertReplayIdentical:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
