package autogen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/ir"
	"github.com/roach88/loopsched/internal/search"
	"github.com/roach88/loopsched/internal/target"
	"github.com/roach88/loopsched/internal/testutil"
)

// failingRule claims every block and fails to apply.
type failingRule struct{}

func (failingRule) Name() string                                     { return "always_fail" }
func (failingRule) Init(*search.State) ApplyType                     { return Apply }
func (failingRule) NumApplicable() int                               { return 0 }
func (failingRule) Apply(int) error                                  { return errors.New("apply failed") }
func (failingRule) AnalyseApplyType(*search.State, string) ApplyType { return Apply }
func (failingRule) ApplyOnBlock(*search.State, string) ([]*search.State, error) {
	return nil, errors.New("apply failed")
}

// lookupRule records a block lookup on a copy of the state and never prunes.
type lookupRule struct{}

func (lookupRule) Name() string                                     { return "lookup" }
func (lookupRule) Init(*search.State) ApplyType                     { return Apply }
func (lookupRule) NumApplicable() int                               { return 0 }
func (lookupRule) Apply(int) error                                  { return nil }
func (lookupRule) AnalyseApplyType(*search.State, string) ApplyType { return Apply }
func (lookupRule) ApplyOnBlock(s *search.State, block string) ([]*search.State, error) {
	next := s.Copy()
	if _, err := next.Traced().GetBlock(block); err != nil {
		return nil, err
	}
	return []*search.State{next}, nil
}

func init() {
	register("always_fail", func(target.Target) Rule { return failingRule{} })
	register("lookup", func(target.Target) Rule { return lookupRule{} })
}

func TestApplyType_String(t *testing.T) {
	assert.Equal(t, "cannot_apply", CannotApply.String())
	assert.Equal(t, "apply", Apply.String())
	assert.Equal(t, "apply_and_prune_other_rules", ApplyAndPruneOtherRules.String())
	assert.Equal(t, "ApplyType(9)", ApplyType(9).String())
}

func TestNewRule(t *testing.T) {
	r, err := NewRule(AutoBindName, target.DefaultNVGPU())
	require.NoError(t, err)
	assert.Equal(t, "auto_bind", r.Name())
	assert.Contains(t, RuleNames(), AutoBindName)

	_, err = NewRule("vectorize", target.DefaultNVGPU())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown rule "vectorize"`)

	_, err = NewRule(AutoBindName, target.Target{Name: "broken"})
	require.Error(t, err)
}

func TestExplore_OneLeafPerRoot(t *testing.T) {
	roots := []*search.State{
		search.New(testutil.MustBuild(t, testutil.CopyWorkload(32))),
		search.New(testutil.MustBuild(t, testutil.CopyWorkload(64, 64))),
		search.New(testutil.MustBuild(t, testutil.RowSumWorkload(16, 8))),
	}
	before := make([]string, len(roots))
	for i, r := range roots {
		before[i] = ir.Dump(r.Module())
	}

	res, err := Explore(context.Background(), roots, []string{AutoBindName}, WithWorkers(2))
	require.NoError(t, err)
	require.Len(t, res.Leaves, 3)
	assert.Zero(t, res.Discarded)

	for i, leaf := range res.Leaves {
		assert.Equal(t, i, leaf.Root)
		assert.Contains(t, ir.Dump(leaf.State.Module()), "bind(threadIdx.x)")
		assert.Equal(t, before[i], ir.Dump(roots[i].Module()), "roots are never mutated")
		assert.Equal(t, 0, roots[i].Desc().Len())
	}
	// Both blocks of the reduction were bound.
	assert.Equal(t, 8, res.Leaves[2].State.Desc().Len())
}

func TestExplore_BindsEveryBlockInOrder(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.TwoStageWorkload(64)))
	res, err := Explore(context.Background(), []*search.State{root}, []string{AutoBindName})
	require.NoError(t, err)
	require.Len(t, res.Leaves, 1)

	recs := res.Leaves[0].State.Desc().Records()
	require.Len(t, recs, 8)
	assert.Equal(t, "GetBlock", recs[0].Type)
	assert.Equal(t, "GetBlock", recs[4].Type)
	assert.NotEqual(t, recs[0].Attrs["block_name"], recs[4].Attrs["block_name"])
}

func TestExplore_PruneStopsLaterRules(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.CopyWorkload(16)))
	res, err := Explore(context.Background(), []*search.State{root}, []string{AutoBindName, "always_fail"})
	require.NoError(t, err)
	require.Len(t, res.Leaves, 1)
	assert.Zero(t, res.Discarded, "auto_bind pruned the failing rule")
}

func TestExplore_DiscardsFailedStates(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.CopyWorkload(16)))
	res, err := Explore(context.Background(), []*search.State{root}, []string{"always_fail", AutoBindName})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discarded)
	require.Len(t, res.Leaves, 1, "auto_bind still ran after the failure")
}

func TestExplore_ApplyKeepsUnchangedState(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.CopyWorkload(16)))

	res, err := Explore(context.Background(), []*search.State{root}, []string{"lookup"})
	require.NoError(t, err)
	require.Len(t, res.Leaves, 2)
	assert.Equal(t, []string{"GetBlock"}, stepTypes(res.Leaves[0].State))
	assert.Equal(t, 0, res.Leaves[1].State.Desc().Len())

	res, err = Explore(context.Background(), []*search.State{root}, []string{"lookup", AutoBindName})
	require.NoError(t, err)
	require.Len(t, res.Leaves, 2, "auto_bind prunes the unchanged state")
	assert.Equal(t, []string{"GetBlock"}, stepTypes(res.Leaves[0].State))
	assert.Contains(t, ir.Dump(res.Leaves[1].State.Module()), "bind(threadIdx.x)")
}

func TestExplore_FailedApplyKeepsUnchangedState(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.CopyWorkload(16)))
	res, err := Explore(context.Background(), []*search.State{root}, []string{"always_fail"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discarded)
	require.Len(t, res.Leaves, 1)
	assert.Equal(t, 0, res.Leaves[0].State.Desc().Len())
}

func TestExplore_UnapplicableStateCarriedForward(t *testing.T) {
	root := search.New(testutil.MustBuild(t, testutil.CopyWorkload(16)))
	loops, err := root.Traced().GetLoopsByName("B")
	require.NoError(t, err)
	require.NoError(t, root.Traced().Unroll(loops[0]))

	res, err := Explore(context.Background(), []*search.State{root}, []string{AutoBindName})
	require.NoError(t, err)
	require.Len(t, res.Leaves, 1)
	assert.Equal(t, ir.Dump(root.Module()), ir.Dump(res.Leaves[0].State.Module()))
	assert.False(t, res.Leaves[0].State == root, "leaves are copies")
}

func TestExplore_Options(t *testing.T) {
	roots := []*search.State{search.New(testutil.MustBuild(t, testutil.CopyWorkload(8)))}

	_, err := Explore(context.Background(), roots, []string{"nope"})
	require.Error(t, err)

	_, err = Explore(context.Background(), roots, nil, WithWorkers(0))
	require.Error(t, err)

	_, err = Explore(context.Background(), roots, nil, WithMaxStates(0))
	require.Error(t, err)

	res, err := Explore(context.Background(), roots, []string{AutoBindName},
		WithTarget(target.Target{Name: "tiny", MaxThreads: 2, MaxBlocks: 2}))
	require.NoError(t, err)
	require.Len(t, res.Leaves, 1)
	assert.Contains(t, ir.Dump(res.Leaves[0].State.Module()), "serial for (i_0, 0, 2)")
}

func TestExplore_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	roots := []*search.State{search.New(testutil.MustBuild(t, testutil.CopyWorkload(8)))}
	_, err := Explore(ctx, roots, []string{AutoBindName})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
