package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/gerrysort/internal/agents"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

func TestScenarioBSymmetricPlan(t *testing.T) {
	votes := []Votes{{Red: 60, Blue: 40}, {Red: 40, Blue: 60}}
	assert.Equal(t, 0.0, EfficiencyGap(votes, 200))
	assert.InDelta(t, 0, MeanMedian(votes), 1e-12)
	assert.Equal(t, SeatCount{Red: 1, Blue: 1}, Seats(votes))
	assert.InDelta(t, 0, Declination(votes), 1e-12)
}

func TestWastedVotes(t *testing.T) {
	cases := []struct {
		name      string
		v         Votes
		red, blue int
	}{
		{"red win", Votes{Red: 70, Blue: 30}, 20, 30},
		{"blue win odd total", Votes{Red: 10, Blue: 11}, 10, 0},
		{"tie", Votes{Red: 5, Blue: 5}, 0, 0},
		{"empty", Votes{}, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, b := tc.v.Wasted()
			assert.Equal(t, tc.red, r)
			assert.Equal(t, tc.blue, b)
		})
	}
}

func TestEfficiencyGapPacked(t *testing.T) {
	// Blue packed into one district, cracked in two.
	votes := []Votes{{Red: 20, Blue: 80}, {Red: 55, Blue: 45}, {Red: 55, Blue: 45}}
	// Red wasted 20+5+5, Blue wasted 30+45+45.
	assert.InDelta(t, (120.0-30.0)/300.0, EfficiencyGap(votes, 300), 1e-12)
	assert.Equal(t, 0.0, EfficiencyGap(nil, 0))
}

func TestDeclinationUndefinedWithOneSidedPlan(t *testing.T) {
	votes := []Votes{{Red: 60, Blue: 40}, {Red: 70, Blue: 30}, {Red: 5, Blue: 5}}
	assert.True(t, math.IsNaN(Declination(votes)))
	assert.Nil(t, Optional(Declination(votes)))
	assert.True(t, math.IsNaN(MeanMedian(nil)))

	// Packed Blue wins push declination positive.
	d := Declination([]Votes{{Red: 55, Blue: 45}, {Red: 55, Blue: 45}, {Red: 10, Blue: 90}})
	assert.Greater(t, d, 0.0)
}

func TestPopulationDeviation(t *testing.T) {
	d := PopulationDeviation([]int{90, 110, 100})
	assert.InDelta(t, 0.1, d.Max, 1e-12)
	assert.InDelta(t, 0.2/3, d.Mean, 1e-12)
	assert.InDelta(t, 200.0/3, d.Variance, 1e-9)
	assert.Equal(t, Deviation{}, PopulationDeviation(nil))
}

func TestCompetitivenessAndSegregation(t *testing.T) {
	avg, seats := Competitiveness([]Votes{{Red: 52, Blue: 48}, {Red: 80, Blue: 20}}, 0.1)
	assert.InDelta(t, (0.96+0.4)/2, avg, 1e-12)
	assert.Equal(t, 1, seats)

	seg := Segregation([]hierarchy.Tally{
		{Population: 4, Red: 4},
		{Population: 4, Red: 2, Blue: 2},
		{Population: 1, Red: 1},
	})
	assert.InDelta(t, (1+4.0/12)/2, seg, 1e-12)
}

func TestProjectedWinner(t *testing.T) {
	s := Snapshot{Seats: []LayerSeats{
		{Layer: hierarchy.Congressional.String(), SeatCount: SeatCount{Red: 3, Blue: 2}},
		{Layer: hierarchy.StateHouse.String(), SeatCount: SeatCount{Red: 7, Blue: 5}},
		{Layer: hierarchy.StateSenate.String(), SeatCount: SeatCount{Red: 2, Blue: 4}},
	}}
	w, m := ProjectedWinner(s, []hierarchy.Layer{hierarchy.Congressional})
	assert.Equal(t, hierarchy.ControlRepublicans, w)
	assert.Equal(t, 1, m)

	w, m = ProjectedWinner(s, []hierarchy.Layer{hierarchy.StateHouse, hierarchy.StateSenate})
	assert.Equal(t, hierarchy.ControlFair, w)
	assert.Zero(t, m)

	w, m = ProjectedWinner(s, []hierarchy.Layer{hierarchy.StateSenate})
	assert.Equal(t, hierarchy.ControlDemocrats, w)
	assert.Equal(t, 2, m)
}

func square(x float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}}}
}

// scenarioB builds two one-precinct districts of 60/40 and 40/60.
func scenarioB(t *testing.T) (*hierarchy.Index, *agents.Population) {
	t.Helper()
	idx := hierarchy.NewIndex("EPSG:5070")
	idx.AddCounty(hierarchy.NewCounty("C", nil, hierarchy.Urban))
	idx.AddDistrict(hierarchy.NewDistrict("1", hierarchy.Congressional))
	idx.AddDistrict(hierarchy.NewDistrict("2", hierarchy.Congressional))
	for i, id := range []string{"a", "b"} {
		idx.AddPrecinct(hierarchy.NewPrecinct(id, "C", square(float64(i))))
		require.NoError(t, idx.Bind(id, "C", map[hierarchy.Layer]string{hierarchy.Congressional: []string{"1", "2"}[i]}))
	}
	idx.BuildAdjacency()
	idx.DissolveAll()

	pop := agents.NewPopulation()
	rng := rand.New(rand.NewSource(1))
	next := agents.HouseholdID(1)
	settle := func(precinct string, party hierarchy.Party, n int) {
		pr, err := idx.Precinct(precinct)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			h := &agents.Household{ID: next, Party: party, Location: pr.RandomPoint(rng), LastMoved: agents.NeverMoved}
			next++
			require.NoError(t, pop.Settle(idx, h, precinct))
		}
	}
	settle("a", hierarchy.Red, 60)
	settle("a", hierarchy.Blue, 40)
	settle("b", hierarchy.Red, 40)
	settle("b", hierarchy.Blue, 60)
	idx.UpdateMajorities()
	return idx, pop
}

func TestComputeScenarioB(t *testing.T) {
	idx, pop := scenarioB(t)
	s := Compute(idx, pop, DefaultOptions())
	assert.Equal(t, 200, s.TotalPopulation)
	assert.Equal(t, 0.0, s.EfficiencyGap)
	require.NotNil(t, s.MeanMedian)
	assert.InDelta(t, 0, *s.MeanMedian, 1e-12)
	assert.Equal(t, SeatCount{Red: 1, Blue: 1}, s.SeatsOf(hierarchy.Congressional))
	assert.Equal(t, hierarchy.ControlFair.String(), s.ProjectedWinner)
	assert.Zero(t, s.MaxPopDeviation)
	assert.InDelta(t, 0.8, s.Competitiveness, 1e-12)
	assert.InDelta(t, 0.5, s.BlueShare, 1e-12)
	assert.InDelta(t, 4*math.Pi/16, s.Compactness, 1e-12)
}

func TestComputeIsIdempotent(t *testing.T) {
	idx, pop := scenarioB(t)
	first := Compute(idx, pop, DefaultOptions())
	second := Compute(idx, pop, DefaultOptions())
	assert.Equal(t, first, second)
}
