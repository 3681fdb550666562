package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Results  []ScenarioOutcome `json:"scenarios"`
	Failures []ScenarioOutcome `json:"failures,omitempty"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// FindScenarios returns the YAML files in dir, sorted by name. A non-empty
// filter is a glob matched against the file's base name without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("bad filter %q: %w", filter, err)
			}
			if !ok {
				continue
			}
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ResultCheck runs after a scenario's own assertions and returns extra
// failure messages.
type ResultCheck func(s *Scenario, r *Result) []string

// RunSuite loads and runs every scenario FindScenarios returns, then each
// check on its result. A scenario that fails to load or run counts as
// failed; only a bad directory or filter is an error.
func RunSuite(dir, filter string, checks ...ResultCheck) (*SuiteResult, error) {
	paths, err := FindScenarios(dir, filter)
	if err != nil {
		return nil, err
	}

	res := &SuiteResult{Results: []ScenarioOutcome{}}
	for _, p := range paths {
		out := ScenarioOutcome{Name: strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)), Path: p}

		scenario, err := LoadScenario(p)
		if err != nil {
			out.Errors = []string{err.Error()}
		} else {
			out.Name = scenario.Name
			r, err := Run(scenario)
			if err != nil {
				out.Errors = []string{err.Error()}
			} else {
				for _, check := range checks {
					for _, msg := range check(scenario, r) {
						r.AddError(msg)
					}
				}
				out.Pass = r.Pass
				out.Errors = r.Errors
			}
		}

		res.Total++
		if out.Pass {
			res.Passed++
		} else {
			res.Failed++
			res.Failures = append(res.Failures, out)
		}
		res.Results = append(res.Results, out)
	}
	return res, nil
}
