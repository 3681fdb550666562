package autogen

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/target"
)

// DefaultWorkers is the default number of roots explored concurrently.
const DefaultWorkers = 4

// DefaultMaxStates bounds the frontier of one root.
const DefaultMaxStates = 1024

type exploreConfig struct {
	target    target.Target
	workers   int
	maxStates int
}

// ExploreOption configures Explore.
type ExploreOption func(*exploreConfig)

// WithTarget sets the hardware target rules are built for.
// Default: target.DefaultNVGPU().
func WithTarget(t target.Target) ExploreOption {
	return func(c *exploreConfig) { c.target = t }
}

// WithWorkers sets how many roots are explored concurrently.
func WithWorkers(n int) ExploreOption {
	return func(c *exploreConfig) { c.workers = n }
}

// WithMaxStates bounds the number of states kept per root after each
// block. States beyond the bound are dropped in order.
func WithMaxStates(n int) ExploreOption {
	return func(c *exploreConfig) { c.maxStates = n }
}

// Leaf is one fully expanded state.
type Leaf struct {
	Root  int // index into the roots passed to Explore
	State *search.State
}

// Result is the outcome of Explore.
type Result struct {
	Leaves []Leaf

	// Discarded counts states dropped because a rule failed on them.
	Discarded int
}

// Explore expands every root through the named rules, one schedule block
// at a time in program order. For each block and state, rules are tried in
// the given order; a rule answering ApplyAndPruneOtherRules stops the
// search for that block and state. Otherwise the unchanged state is carried
// forward after the states the rules produced.
//
// Roots are expanded concurrently, each by its own rule instances, and
// are never mutated. Leaves are returned grouped by root, in root order.
// A rule failure discards the affected state only. The context is checked
// between blocks.
func Explore(ctx context.Context, roots []*search.State, ruleNames []string, opts ...ExploreOption) (Result, error) {
	cfg := exploreConfig{
		target:    target.DefaultNVGPU(),
		workers:   DefaultWorkers,
		maxStates: DefaultMaxStates,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		return Result{}, fmt.Errorf("explore: workers must be positive, got %d", cfg.workers)
	}
	if cfg.maxStates <= 0 {
		return Result{}, fmt.Errorf("explore: max states must be positive, got %d", cfg.maxStates)
	}
	for _, n := range ruleNames {
		if _, err := NewRule(n, cfg.target); err != nil {
			return Result{}, fmt.Errorf("explore: %w", err)
		}
	}

	perRoot := make([][]*search.State, len(roots))
	discarded := make([]int, len(roots))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, root := range roots {
		g.Go(func() error {
			leaves, dropped, err := expandRoot(ctx, root, ruleNames, cfg)
			if err != nil {
				return fmt.Errorf("explore root %d: %w", i, err)
			}
			perRoot[i] = leaves
			discarded[i] = dropped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	for i, leaves := range perRoot {
		for _, s := range leaves {
			res.Leaves = append(res.Leaves, Leaf{Root: i, State: s})
		}
		res.Discarded += discarded[i]
	}
	slog.Info("explore finished", "roots", len(roots), "leaves", len(res.Leaves), "discarded", res.Discarded)
	return res, nil
}

func expandRoot(ctx context.Context, root *search.State, ruleNames []string, cfg exploreConfig) ([]*search.State, int, error) {
	rules := make([]Rule, len(ruleNames))
	for i, n := range ruleNames {
		r, err := NewRule(n, cfg.target)
		if err != nil {
			return nil, 0, err
		}
		rules[i] = r
	}

	var blocks []string
	for _, b := range root.Schedule().GetAllBlocks() {
		name, _ := root.Module().BlockName(b)
		blocks = append(blocks, name)
	}

	frontier := []*search.State{root.Copy()}
	dropped := 0
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		var next []*search.State
		for _, s := range frontier {
			children, n := expandBlock(s, block, rules)
			dropped += n
			next = append(next, children...)
		}
		if len(next) > cfg.maxStates {
			slog.Debug("frontier truncated", "block", block, "states", len(next), "max", cfg.maxStates)
			next = next[:cfg.maxStates]
		}
		frontier = next
	}
	return frontier, dropped, nil
}

// expandBlock applies every applicable rule to block of s. It returns the
// resulting states and the number of failed applications. Unless a rule
// pruned the others, s itself follows the children unchanged.
func expandBlock(s *search.State, block string, rules []Rule) ([]*search.State, int) {
	var out []*search.State
	pruned, failed := false, 0
	for _, r := range rules {
		t := r.AnalyseApplyType(s, block)
		if t == CannotApply {
			continue
		}
		children, err := r.ApplyOnBlock(s, block)
		if err != nil {
			slog.Debug("state discarded", "rule", r.Name(), "block", block, "error", err)
			failed++
		} else {
			out = append(out, children...)
		}
		if t == ApplyAndPruneOtherRules {
			pruned = true
			break
		}
	}
	if !pruned {
		out = append(out, s)
	}
	return out, failed
}
