package redistrict

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/geo"
	"github.com/talgya/gerrysort/internal/hierarchy"
	"github.com/talgya/gerrysort/internal/world"
)

func square(x, y float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}}
}

// Two rows of three precincts with ten residents each, districted by
// column into D1, D2 and D3.
var sixTallies = map[string][2]int{
	"p00": {9, 1}, "p01": {4, 6}, "p02": {7, 3},
	"p10": {9, 1}, "p11": {2, 8}, "p12": {2, 8},
}

var (
	columnsPlan = Assignment{0, 1, 2, 0, 1, 2} // 1 red, 2 blue
	mixedPlan   = Assignment{0, 0, 2, 1, 1, 2} // 2 red, 1 blue
)

func sixWorld(t *testing.T) *hierarchy.Index {
	t.Helper()
	idx := hierarchy.NewIndex("EPSG:5070")
	idx.AddCounty(hierarchy.NewCounty("C", nil, hierarchy.SmallTown))
	for _, id := range []string{"D1", "D2", "D3"} {
		idx.AddDistrict(hierarchy.NewDistrict(id, hierarchy.Congressional))
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			id := fmt.Sprintf("p%d%d", row, col)
			idx.AddPrecinct(hierarchy.NewPrecinct(id, "C", square(float64(col), float64(row))))
			require.NoError(t, idx.Bind(id, "C", map[hierarchy.Layer]string{
				hierarchy.Congressional: fmt.Sprintf("D%d", col+1),
			}))
		}
	}
	idx.BuildAdjacency()
	idx.DissolveAll()
	for id, rb := range sixTallies {
		for i := 0; i < rb[0]; i++ {
			require.NoError(t, idx.AddResident(id, hierarchy.Red))
		}
		for i := 0; i < rb[1]; i++ {
			require.NoError(t, idx.AddResident(id, hierarchy.Blue))
		}
	}
	idx.UpdateMajorities()
	return idx
}

func seats(idx *hierarchy.Index) (red, blue int) {
	for _, d := range idx.Districts(hierarchy.Congressional) {
		switch d.Tally().Majority() {
		case hierarchy.ColorRed:
			red++
		case hierarchy.ColorBlue:
			blue++
		}
	}
	return red, blue
}

func stubOptimizer(candidates ...Assignment) *Optimizer {
	opts := DefaultOptions()
	opts.Sigma = 0
	return NewOptimizer(FixedSearcher{Candidates: candidates}, opts, entropy.NewSource(7))
}

func TestSnapshot(t *testing.T) {
	idx := sixWorld(t)
	g, a, labels := Snapshot(idx, hierarchy.Congressional)
	assert.Equal(t, []string{"D1", "D2", "D3"}, labels)
	assert.Equal(t, columnsPlan, a)
	assert.Equal(t, 60, g.TotalPopulation())
	assert.Len(t, g.Edges, 7)
	assert.InDelta(t, 1.0, g.SharedLength(0, 3), 1e-9)

	stats := g.Stats(a, 3)
	assert.Equal(t, PartStats{Population: 20, Red: 18, Blue: 2, Area: 2, Perimeter: 6}, stats[0])
	assert.True(t, g.Valid(a, Constraints{Parts: 3, Epsilon: 0.01, Contiguous: true}))
}

func TestScenarioCRepublicansPickTwoRedPlan(t *testing.T) {
	idx := sixWorld(t)
	r, b := seats(idx)
	require.Equal(t, [2]int{1, 2}, [2]int{r, b})

	res, err := stubOptimizer(columnsPlan, mixedPlan).Redistrict(context.Background(), idx, hierarchy.ControlRepublicans, 0.45, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, res.Score, 1e-12)
	assert.Equal(t, 1, res.Attempts)

	r, b = seats(idx)
	assert.Equal(t, [2]int{2, 1}, [2]int{r, b})
	require.NoError(t, idx.CheckInvariants())

	// Reconciliation keeps D3 and swaps only p01 and p10.
	assert.Equal(t, []hierarchy.Move{
		{PrecinctID: "p01", From: "D2", To: "D1"},
		{PrecinctID: "p10", From: "D1", To: "D2"},
	}, res.Delta.Moves)
	assert.InDelta(t, 2.0/6, res.ChangeMap, 1e-12)
}

func TestDemocratsKeepTwoBluePlan(t *testing.T) {
	idx := sixWorld(t)
	res, err := stubOptimizer(mixedPlan, columnsPlan).Redistrict(context.Background(), idx, hierarchy.ControlDemocrats, 0.45, 1)
	require.NoError(t, err)
	assert.True(t, res.Delta.Empty())
	assert.Zero(t, res.ChangeMap)
	r, b := seats(idx)
	assert.Equal(t, [2]int{1, 2}, [2]int{r, b})
}

func TestFairControlMinimizesShareGap(t *testing.T) {
	idx := sixWorld(t)
	// Blue holds 27 of 60 residents; one Blue seat of three is the closer share.
	res, err := stubOptimizer(columnsPlan, mixedPlan).Propose(context.Background(), idx, hierarchy.ControlFair, 0.45, 1)
	require.NoError(t, err)
	assert.InDelta(t, -(0.45 - 1.0/3), res.Score, 1e-12)
	assert.Equal(t, "D1", res.Plan["p01"])
}

func TestOptimizerRetriesThenFails(t *testing.T) {
	idx := sixWorld(t)
	// Unbalanced: part 0 holds four precincts.
	bad := Assignment{0, 0, 1, 0, 0, 2}
	res, err := stubOptimizer(bad).Redistrict(context.Background(), idx, hierarchy.ControlRepublicans, 0.45, 1)
	assert.ErrorIs(t, err, ErrNoFeasiblePartition)
	assert.Equal(t, 3, res.Attempts)

	_, after, _ := Snapshot(idx, hierarchy.Congressional)
	assert.Equal(t, columnsPlan, after)
}

func TestPlanObjectiveBlend(t *testing.T) {
	parts := []PartStats{
		{Population: 10, Red: 6, Blue: 4, Area: 1, Perimeter: 4},
		{Population: 10, Red: 1, Blue: 9, Area: 1, Perimeter: 4},
	}
	o := &PlanObjective{Control: hierarchy.ControlRepublicans}
	assert.InDelta(t, 0.5, o.Base(parts), 1e-12)

	o.Intervention = InterventionCompetitive
	o.Weight = 0.5
	o.Margin = 0.25
	assert.InDelta(t, 0.5*0.5+0.5*0.5, o.Base(parts), 1e-12)

	o.Intervention = InterventionCompact
	assert.InDelta(t, 0.5*0.5+0.5*geo.PolsbyPopper(1, 4), o.Base(parts), 1e-12)

	noisy := &PlanObjective{Control: hierarchy.ControlRepublicans, Sigma: 0.1, Rand: rand.New(rand.NewSource(1))}
	assert.NotEqual(t, noisy.Base(parts), noisy.Score(parts))

	_, err := ParseIntervention("random")
	assert.Error(t, err)
}

func TestReconcileRelabelsPermutation(t *testing.T) {
	idx := sixWorld(t)
	g, current, labels := Snapshot(idx, hierarchy.Congressional)
	permuted := Assignment{2, 0, 1, 2, 0, 1}
	assert.Equal(t, []string{"D2", "D3", "D1"}, Reconcile(g, permuted, current, labels))
}

func gridIndex(t *testing.T, districts int) *hierarchy.Index {
	t.Helper()
	cfg := world.SmallTestConfig()
	cfg.Congressional = districts
	ds, _, err := world.Generate(cfg)
	require.NoError(t, err)
	idx, err := ds.Build()
	require.NoError(t, err)
	for i, p := range idx.Precincts() {
		for k := 0; k < 10; k++ {
			party := hierarchy.Red
			if (i+k)%3 == 0 {
				party = hierarchy.Blue
			}
			require.NoError(t, idx.AddResident(p.ID(), party))
		}
	}
	idx.UpdateMajorities()
	return idx
}

func TestReComKeepsPlansBalancedAndContiguous(t *testing.T) {
	idx := gridIndex(t, 4)
	g, current, labels := Snapshot(idx, hierarchy.Congressional)
	c := Constraints{Parts: len(labels), Epsilon: 0.1, Contiguous: true}
	obj := &PlanObjective{Control: hierarchy.ControlDemocrats}

	best, err := DefaultReCom().Search(context.Background(), g, current, c, obj, 30, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.True(t, g.Valid(best, c))

	again, err := DefaultReCom().Search(context.Background(), g, current, c, obj, 30, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, best, again, "same seed, same plan")
}

func TestRandomAssignment(t *testing.T) {
	idx := gridIndex(t, 4)
	g, _, _ := Snapshot(idx, hierarchy.Congressional)
	c := Constraints{Parts: 4, Epsilon: 0.1, Contiguous: true}
	a, ok := DefaultReCom().RandomAssignment(g, c, rand.New(rand.NewSource(9)))
	require.True(t, ok)
	assert.True(t, g.Valid(a, c))
	assert.Equal(t, 4, a.Parts())
}

func TestReComInfeasible(t *testing.T) {
	g := NewGraph([]Node{{ID: "a", Population: 10}, {ID: "b", Population: 30}}, []geo.Edge{{I: 0, J: 1, Length: 1}})
	c := Constraints{Parts: 2, Epsilon: 0.01, Contiguous: true}
	_, err := DefaultReCom().Search(context.Background(), g, Assignment{0, 1}, c, &PlanObjective{}, 10, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoFeasiblePartition)
}

func TestReComDeadlineReturnsBestSoFar(t *testing.T) {
	idx := gridIndex(t, 2)
	g, _, labels := Snapshot(idx, hierarchy.Congressional)
	c := Constraints{Parts: len(labels), Epsilon: 0.1, Contiguous: true}
	current, ok := DefaultReCom().RandomAssignment(g, c, rand.New(rand.NewSource(2)))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	best, err := DefaultReCom().Search(ctx, g, current, c, &PlanObjective{}, 1000, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, current, best)
}

func TestContiguity(t *testing.T) {
	// a - b - c in a line.
	g := NewGraph([]Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}, []geo.Edge{{I: 0, J: 1}, {I: 1, J: 2}})
	assert.True(t, g.Contiguous(Assignment{0, 0, 1}, 2))
	assert.False(t, g.Contiguous(Assignment{0, 1, 0}, 2))
	assert.False(t, g.Contiguous(Assignment{0, 0, 0}, 2), "empty part")
}

func TestRandomSpanningTree(t *testing.T) {
	// 2x3 grid: 0-1-2 over 3-4-5 with vertical edges.
	edges := []geo.Edge{{I: 0, J: 1}, {I: 1, J: 2}, {I: 3, J: 4}, {I: 4, J: 5}, {I: 0, J: 3}, {I: 1, J: 4}, {I: 2, J: 5}}
	nodes := make([]Node, 6)
	for i := range nodes {
		nodes[i] = Node{ID: fmt.Sprintf("n%d", i), Population: 1}
	}
	g := NewGraph(nodes, edges)
	all := []int{0, 1, 2, 3, 4, 5}

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		tree, ok := randomSpanningTree(g, all, rng)
		require.True(t, ok)
		degree := 0
		for v, nbs := range tree {
			for _, w := range nbs {
				degree++
				assert.Contains(t, g.Adj[all[v]], all[w], "tree edge %d-%d not in graph", v, w)
			}
		}
		assert.Equal(t, 2*(len(all)-1), degree)

		a := make(Assignment, len(all))
		within := NewGraph(nodes, treeEdges(tree))
		assert.True(t, within.Contiguous(a, 1), "tree spans every node")
	}

	_, ok := randomSpanningTree(g, []int{0, 5}, rng)
	assert.False(t, ok, "disconnected subgraph")
}

func treeEdges(tree [][]int) []geo.Edge {
	var out []geo.Edge
	for v, nbs := range tree {
		for _, w := range nbs {
			if v < w {
				out = append(out, geo.Edge{I: v, J: w})
			}
		}
	}
	return out
}

func TestSpanningTreesVary(t *testing.T) {
	edges := []geo.Edge{{I: 0, J: 1}, {I: 1, J: 2}, {I: 2, J: 3}, {I: 3, J: 0}}
	g := NewGraph(make([]Node, 4), edges)
	rng := rand.New(rand.NewSource(9))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tree, ok := randomSpanningTree(g, []int{0, 1, 2, 3}, rng)
		require.True(t, ok)
		seen[fmt.Sprint(tree)] = true
	}
	assert.Greater(t, len(seen), 1, "a 4-cycle has four spanning trees")
}
