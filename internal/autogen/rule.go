// Package autogen implements schedule generation rules and the driver that
// expands search states through them.
//
// A rule instance caches the occurrences found by its last Init and is
// meant for one goroutine at a time: Init and Apply on the same instance
// must not interleave across goroutines. The stateless per-block methods
// never mutate their input state and return fresh copies instead.
package autogen

import (
	"fmt"
	"sort"

	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/target"
)

// ApplyType is the outcome of an applicability query.
type ApplyType int

const (
	// CannotApply means the rule has no occurrence.
	CannotApply ApplyType = iota
	// Apply means the rule may be applied at any subset of its occurrences.
	Apply
	// ApplyAndPruneOtherRules means that once this rule applies, no other
	// rule is considered for the same site.
	ApplyAndPruneOtherRules
)

func (t ApplyType) String() string {
	switch t {
	case CannotApply:
		return "cannot_apply"
	case Apply:
		return "apply"
	case ApplyAndPruneOtherRules:
		return "apply_and_prune_other_rules"
	}
	return fmt.Sprintf("ApplyType(%d)", int(t))
}

// Rule is a schedule generation rule.
//
// Init scans a state and caches every occurrence; Apply rewrites the state
// passed to Init at one of them, recording each primitive in the state's
// descriptor. AnalyseApplyType and ApplyOnBlock work on one named block
// without a prior Init, and ApplyOnBlock returns new states rather than
// mutating its argument.
//
// Applicability queries never fail; an unknown block or unexpected nest is
// reported as CannotApply. A state Apply failed on may hold a partial
// trace and is discarded by the caller.
type Rule interface {
	Name() string
	Init(s *search.State) ApplyType
	NumApplicable() int
	Apply(index int) error
	AnalyseApplyType(s *search.State, block string) ApplyType
	ApplyOnBlock(s *search.State, block string) ([]*search.State, error)
}

// Constructor builds a rule for a target.
type Constructor func(t target.Target) Rule

// rules is populated by init functions and read-only afterwards.
var rules = map[string]Constructor{}

func register(name string, c Constructor) {
	if _, dup := rules[name]; dup {
		panic(fmt.Sprintf("autogen: rule %q registered twice", name))
	}
	rules[name] = c
}

// NewRule constructs the named rule for t.
func NewRule(name string, t target.Target) (Rule, error) {
	c, ok := rules[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q (known: %v)", name, RuleNames())
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("rule %s: %w", name, err)
	}
	return c(t), nil
}

// RuleNames returns the registered rule names, sorted.
func RuleNames() []string {
	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
