package decider

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 (spec.md §8): 16 leaves under fanout {4,4}, root budget 1000W ->
// each leaf receives 62.5W +/-1W, applying Uniform twice (once per
// level) the way the tree walks the budget down.
func TestUniform_S4_TwoLevelSplit(t *testing.T) {
	u := Uniform{}
	root := policy.New(1)
	root.SetMode(policy.PerfBalanceDynamic)
	root.SetBudgetWatts(1000)

	level1Children := map[int]region.Telemetry{0: {}, 1: {}, 2: {}, 3: {}}
	level1Out, err := u.Decide(1, level1Children, root)
	require.NoError(t, err)
	require.Len(t, level1Out, 4)

	var level1Sum float64
	for _, p := range level1Out {
		level1Sum += p.BudgetWatts()
	}
	t.Logf("level1 sum=%.2f", level1Sum)
	assert.InDelta(t, 1000, level1Sum, 1)

	level0Children := map[int]region.Telemetry{0: {}, 1: {}, 2: {}, 3: {}}
	var leafSum float64
	for _, parentPolicy := range level1Out {
		leafOut, err := u.Decide(0, level0Children, parentPolicy)
		require.NoError(t, err)
		require.Len(t, leafOut, 4)
		for _, p := range leafOut {
			assert.InDelta(t, 62.5, p.BudgetWatts(), 1)
			leafSum += p.BudgetWatts()
		}
	}
	t.Logf("total leaf sum=%.2f", leafSum)
	assert.InDelta(t, 1000, leafSum, 1)
}

func TestUniform_Decide_EmptyChildren(t *testing.T) {
	u := Uniform{}
	p := policy.New(1)
	p.SetBudgetWatts(500)
	out, err := u.Decide(0, map[int]region.Telemetry{}, p)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUniform_Decide_PreservesMode(t *testing.T) {
	u := Uniform{}
	p := policy.New(1)
	p.SetMode(policy.FreqUniformDynamic)
	p.SetBudgetWatts(100)
	out, err := u.Decide(0, map[int]region.Telemetry{0: {}}, p)
	require.NoError(t, err)
	assert.Equal(t, policy.FreqUniformDynamic, out[0].Mode())
}

func TestPassthroughLeaf_Decide(t *testing.T) {
	leaf := PassthroughLeaf{}
	p := policy.New(1)
	p.SetBudgetWatts(42)
	act, err := leaf.Decide(region.Telemetry{}, p)
	require.NoError(t, err)
	assert.Equal(t, 42.0, act.Value)
}

func TestRegistry_FallsBackToUniformForDynamicModes(t *testing.T) {
	tree, err := NewTree(policy.PerfBalanceDynamic)
	require.NoError(t, err)
	assert.IsType(t, &Uniform{}, tree)

	leaf, err := NewLeaf(policy.PerfBalanceDynamic)
	require.NoError(t, err)
	assert.IsType(t, &PassthroughLeaf{}, leaf)
}

func TestRegistry_RejectsStaticModeWithoutFactory(t *testing.T) {
	_, err := NewTree(policy.TDPBalanceStatic)
	assert.Error(t, err, "static modes are enforced directly via GlobalPolicy.EnforceStaticMode, not the tree decider path")
}
