package agents

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/gerrysort/internal/hierarchy"
	"github.com/talgya/gerrysort/internal/world"
)

func square(x, y float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}}
}

// twoCounty builds counties A={a1} (rural) and B={b1} (urban) inside one
// congressional district D.
func twoCounty(t *testing.T, capA, capB int) *hierarchy.Index {
	t.Helper()
	idx := hierarchy.NewIndex("EPSG:5070")
	a := hierarchy.NewCounty("A", nil, hierarchy.Rural)
	a.Capacity = capA
	b := hierarchy.NewCounty("B", nil, hierarchy.Urban)
	b.Capacity = capB
	idx.AddCounty(a)
	idx.AddCounty(b)
	idx.AddDistrict(hierarchy.NewDistrict("D", hierarchy.Congressional))
	for i, pc := range [][2]string{{"a1", "A"}, {"b1", "B"}} {
		p := hierarchy.NewPrecinct(pc[0], pc[1], square(float64(i), 0))
		p.SourcePopulation = 10
		idx.AddPrecinct(p)
		require.NoError(t, idx.Bind(pc[0], pc[1], map[hierarchy.Layer]string{hierarchy.Congressional: "D"}))
	}
	idx.BuildAdjacency()
	idx.DissolveAll()
	return idx
}

func settle(t *testing.T, idx *hierarchy.Index, pop *Population, id HouseholdID, party hierarchy.Party, precinct string) {
	t.Helper()
	pr, err := idx.Precinct(precinct)
	require.NoError(t, err)
	h := &Household{ID: id, Party: party, Location: pr.RandomPoint(rand.New(rand.NewSource(int64(id)))), LastMoved: NeverMoved}
	require.NoError(t, pop.Settle(idx, h, precinct))
}

func TestScenarioAToleranceZeroNoMoves(t *testing.T) {
	for _, beta := range []float64{0, 1, 100, 1e6} {
		idx := twoCounty(t, 10, 10)
		pop := NewPopulation()
		settle(t, idx, pop, 1, hierarchy.Red, "a1")
		settle(t, idx, pop, 2, hierarchy.Red, "a1")
		settle(t, idx, pop, 3, hierarchy.Blue, "b1")
		idx.UpdateMajorities()

		s := NewSorter(idx, NewUtilityModel(idx, DefaultUtilityParams()),
			SortParams{Tolerance: 0, Beta: beta, NMovingOptions: 10}, rand.New(rand.NewSource(1)))
		unhappy, err := s.UpdateUtilities(pop)
		require.NoError(t, err)
		assert.Equal(t, 0, unhappy)

		res, err := s.Round(pop)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Moves, "beta=%v", beta)
	}
}

func TestZeroCapacitySlackNoMoves(t *testing.T) {
	idx := twoCounty(t, 2, 1)
	pop := NewPopulation()
	settle(t, idx, pop, 1, hierarchy.Red, "a1")
	settle(t, idx, pop, 2, hierarchy.Blue, "a1")
	settle(t, idx, pop, 3, hierarchy.Blue, "b1")
	idx.UpdateMajorities()

	// Everyone is unhappy but no county has room.
	s := NewSorter(idx, NewUtilityModel(idx, DefaultUtilityParams()),
		SortParams{Tolerance: 2, Beta: 0, NMovingOptions: 5}, rand.New(rand.NewSource(1)))
	_, err := s.UpdateUtilities(pop)
	require.NoError(t, err)
	res, err := s.Round(pop)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Moves)
	assert.Equal(t, 3, res.NoCapacity)
	require.NoError(t, idx.CheckInvariants())
}

func TestUtility(t *testing.T) {
	idx := twoCounty(t, 10, 10)
	pop := NewPopulation()
	settle(t, idx, pop, 1, hierarchy.Red, "a1")
	settle(t, idx, pop, 2, hierarchy.Red, "a1")
	settle(t, idx, pop, 3, hierarchy.Blue, "b1")
	idx.UpdateMajorities()

	m := NewUtilityModel(idx, DefaultUtilityParams())
	u, err := m.At(hierarchy.Red, "a1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, u, 1e-12)

	// Blue in a1: precinct 0.25, county 0.5, district 0.75, rural 0.5.
	u, err = m.At(hierarchy.Blue, "a1")
	require.NoError(t, err)
	assert.InDelta(t, 0.25*0.5*0.75*0.5, u, 1e-12)

	// Blue in b1: own precinct and urban county, Red district.
	u, err = m.At(hierarchy.Blue, "b1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, u, 1e-12)

	params := DefaultUtilityParams()
	params.Mode = Additive
	u, err = NewUtilityModel(idx, params).At(hierarchy.Blue, "a1")
	require.NoError(t, err)
	assert.InDelta(t, (0.25+0.5+0.75+0.5)/4, u, 1e-12)

	_, err = m.At(hierarchy.Red, "zz")
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)

	assert.InDelta(t, 0.5, Discount(1, 0.5, 1), 1e-12)
	assert.Equal(t, 0.8, Discount(0.8, 0.9, 0))
}

func TestProbabilitiesBetaZeroIsUniform(t *testing.T) {
	probs := Probabilities(0, 0.3, []float64{0.1, 0.9, 0.5, 0.2})
	require.Len(t, probs, 5)
	for _, p := range probs {
		assert.InDelta(t, 0.2, p, 1e-12)
	}
}

func TestLargeBetaSelectsArgmax(t *testing.T) {
	opts := []float64{0.2, 0.9, 0.5}
	probs := Probabilities(1e6, 0.3, opts)
	assert.InDelta(t, 1.0, probs[2], 1e-9)

	probs = Probabilities(50, 0.3, opts)
	assert.Greater(t, probs[2], 0.99)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		assert.Equal(t, 1, Choose(1e6, 0.3, opts, rng))
	}
	// Staying wins when it is the best option.
	assert.Equal(t, Stay, Choose(1e6, 0.95, opts, rng))
	assert.Equal(t, Stay, Choose(1, 0.5, nil, rng))
}

func TestChooseBetaZeroEmpirical(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	counts := map[int]int{}
	const n = 8000
	for i := 0; i < n; i++ {
		counts[Choose(0, 0.5, []float64{0, 1, 0.25}, rng)]++
	}
	for _, k := range []int{Stay, 0, 1, 2} {
		assert.InDelta(t, 0.25, float64(counts[k])/n, 0.03, "option %d", k)
	}
}

func TestSpawnAndSortKeepTalliesConsistent(t *testing.T) {
	ds, _, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	idx, err := ds.Build()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	pop, err := NewSpawner(rng).Spawn(idx, SpawnConfig{NPop: 400, CapacityMul: 1.5})
	require.NoError(t, err)
	require.GreaterOrEqual(t, pop.Len(), 400)
	assert.Equal(t, pop.Len(), pop.NRed+pop.NBlue)
	assert.Equal(t, pop.Len(), idx.TotalPopulation())
	require.NoError(t, idx.CheckInvariants())
	for _, c := range idx.Counties() {
		assert.GreaterOrEqual(t, c.Capacity, c.Tally().Population)
	}
	idx.UpdateMajorities()

	s := NewSorter(idx, NewUtilityModel(idx, DefaultUtilityParams()),
		SortParams{Tolerance: 0.9, Beta: 10, NMovingOptions: 5, Cooldown: 1, DistanceDecay: 0.5}, rng)
	_, err = s.UpdateUtilities(pop)
	require.NoError(t, err)

	first, err := s.Round(pop)
	require.NoError(t, err)
	assert.Greater(t, first.Moves, 0)
	require.NoError(t, idx.CheckInvariants())
	assert.Equal(t, pop.Len(), idx.TotalPopulation())

	// Recounting residents from scratch matches the incremental tallies, and
	// every household sits inside its precinct.
	for _, pr := range idx.Precincts() {
		residents := pop.InPrecinct(pr.ID())
		var tally hierarchy.Tally
		for _, h := range residents {
			tally.Add(h.Party)
			assert.True(t, pr.Contains(h.Location), "household %d outside %s", h.ID, pr.ID())
			assert.Equal(t, idx.CountyOf(pr.ID()), h.CountyID)
		}
		assert.Equal(t, tally, pr.Tally(), pr.ID())
	}
	for _, c := range idx.Counties() {
		assert.LessOrEqual(t, c.Tally().Population, c.Capacity, c.ID())
	}

	// Households that just moved sit out the next round.
	idx.UpdateMajorities()
	_, err = s.UpdateUtilities(pop)
	require.NoError(t, err)
	var waiting []*Household
	for _, h := range pop.All() {
		if h.LastMoved == 0 && h.Unhappy {
			waiting = append(waiting, h)
		}
	}
	second, err := s.Round(pop)
	require.NoError(t, err)
	assert.Equal(t, len(waiting), second.SkippedCooldown)
	for _, h := range waiting {
		assert.Equal(t, 1, h.LastMoved, "household %d moved during its cooldown", h.ID)
	}
	require.NoError(t, idx.CheckInvariants())
}

func TestRebindFollowsReassignment(t *testing.T) {
	idx := twoCounty(t, 10, 10)
	idx.AddDistrict(hierarchy.NewDistrict("E", hierarchy.Congressional))
	pop := NewPopulation()
	settle(t, idx, pop, 1, hierarchy.Red, "b1")

	delta := idx.DiffAssignment(hierarchy.Congressional, map[string]string{"b1": "E"})
	_, err := idx.ApplyDelta(delta)
	require.NoError(t, err)
	pop.Rebind(idx, delta)

	h, ok := pop.Get(1)
	require.True(t, ok)
	assert.Equal(t, "E", h.DistrictIDs[hierarchy.Congressional])
	require.NoError(t, idx.CheckInvariants())
}

func TestHappinessCounts(t *testing.T) {
	idx := twoCounty(t, 10, 10)
	pop := NewPopulation()
	settle(t, idx, pop, 1, hierarchy.Red, "a1")
	settle(t, idx, pop, 2, hierarchy.Red, "a1")
	settle(t, idx, pop, 3, hierarchy.Blue, "a1")
	idx.UpdateMajorities()
	s := NewSorter(idx, NewUtilityModel(idx, DefaultUtilityParams()), SortParams{Tolerance: 0.5}, rand.New(rand.NewSource(1)))
	unhappy, err := s.UpdateUtilities(pop)
	require.NoError(t, err)
	assert.Equal(t, 1, unhappy)

	c := pop.Happiness()
	assert.Equal(t, Counts{Happy: 2, Unhappy: 1, HappyRed: 2, UnhappyBlue: 1}, c)
	assert.InDelta(t, (1+1+0.25*0.5*0.75*0.5)/3, pop.MeanUtility(), 1e-12)
	assert.InDelta(t, 1.0/3, pop.BlueShare(), 1e-12)
}

func TestWeightedDraws(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	w := newWeighted([]float64{0, 3, math.NaN(), 1}, rng)
	counts := make([]int, 4)
	const n = 8000
	for i := 0; i < n; i++ {
		counts[w.draw()]++
	}
	assert.Zero(t, counts[0], "zero weight")
	assert.Zero(t, counts[2], "NaN weight")
	assert.InDelta(t, 0.75, float64(counts[1])/n, 0.03)

	uniform := newWeighted([]float64{0, 0}, rng)
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		seen[uniform.draw()] = true
	}
	assert.Len(t, seen, 2, "all-zero weights draw uniformly")
	assert.Equal(t, -1, newWeighted(nil, rng).draw())
}
