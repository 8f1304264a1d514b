// World generation using layered simplex noise.
// Density and partisan-lean fields drive precinct population, votes and
// county urbanicity; districts are population-balanced snake strips.
package world

import (
	"fmt"
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/dataset"
	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// CRS of generated datasets: a projected CRS in meters.
const CRS = "EPSG:5070"

// GenConfig holds landscape generation parameters.
type GenConfig struct {
	Cols, Rows      int
	CountySize      int     // County block edge, in cells
	Congressional   int     // Number of congressional districts
	HouseDistricts  int     // 0 omits the state-house layer
	SenateDistricts int     // 0 omits the state-senate layer
	Centers         int     // Urban cores
	CellSize        float64 // Precinct edge length in CRS units
	BasePopulation  int     // Mean precinct population
	Turnout         float64 // Votes per resident
	CapacitySlack   float64 // County capacity above its population, as a fraction
	Election        string
	Seed            int64 // 0 = random
}

// DefaultGenConfig returns a medium-sized state.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Cols:            24,
		Rows:            24,
		CountySize:      4,
		Congressional:   4,
		HouseDistricts:  12,
		SenateDistricts: 6,
		Centers:         3,
		CellSize:        1000,
		BasePopulation:  500,
		Turnout:         0.6,
		CapacitySlack:   0.3,
		Election:        "PRES20",
	}
}

// SmallTestConfig returns a tiny state for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Cols:           8,
		Rows:           8,
		CountySize:     4,
		Congressional:  2,
		Centers:        1,
		CellSize:       1000,
		BasePopulation: 100,
		Turnout:        0.6,
		CapacitySlack:  0.3,
		Election:       "PRES20",
		Seed:           42,
	}
}

// Generate builds a grid landscape and its normalized dataset.
func Generate(cfg GenConfig) (*dataset.Dataset, *Grid, error) {
	if cfg.Cols <= 0 || cfg.Rows <= 0 || cfg.CountySize <= 0 {
		return nil, nil, fmt.Errorf("generate: grid and county size must be positive")
	}
	cells := cfg.Cols * cfg.Rows
	for _, k := range []int{cfg.Congressional, cfg.HouseDistricts, cfg.SenateDistricts} {
		if k > cells {
			return nil, nil, fmt.Errorf("generate: %d districts exceed %d precincts", k, cells)
		}
	}
	if cfg.Congressional <= 0 {
		return nil, nil, fmt.Errorf("generate: at least one congressional district is required")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = entropy.CryptoSeed()
	}

	// Independent noise layers.
	densNoise := opensimplex.NewNormalized(seed)
	leanNoise := opensimplex.NewNormalized(seed + 1)

	g := NewGrid(cfg.Cols, cfg.Rows)
	for col := 0; col < cfg.Cols; col++ {
		for row := 0; row < cfg.Rows; row++ {
			x, y := float64(col), float64(row)
			g.Set(&Cell{
				Coord:   Coord{col, row},
				Density: octaveNoise(densNoise, x, y, 4, 0.08, 0.5),
				Lean:    octaveNoise(leanNoise, x, y, 3, 0.06, 0.5),
			})
		}
	}

	// Urban cores sit on the noise peaks; density falls off around them.
	spacing := max(2, max(cfg.Cols, cfg.Rows)/3)
	centers := PlaceCenters(g, cfg.Centers, spacing)
	radius := math.Max(1, float64(max(cfg.Cols, cfg.Rows))/6)

	for _, cell := range g.Cells {
		d := 0.35*cell.Density + 0.65*centerPull(cell.Coord, centers, radius)
		cell.Density = clamp(d, 0, 1)

		// Denser places lean Blue.
		cell.Lean = clamp(0.72-0.45*cell.Density+0.2*(cell.Lean-0.5), 0.05, 0.95)

		cell.Population = max(1, int(math.Round(float64(cfg.BasePopulation)*(0.25+1.75*cell.Density))))
		votes := int(math.Round(float64(cell.Population) * cfg.Turnout))
		cell.Red = int(math.Round(float64(votes) * cell.Lean))
		cell.Blue = votes - cell.Red
	}

	ds := buildDataset(g, cfg, rand.New(rand.NewSource(seed+200)))
	if err := ds.Validate(); err != nil {
		return nil, nil, fmt.Errorf("generate: %w", err)
	}
	return ds, g, nil
}

func buildDataset(g *Grid, cfg GenConfig, rng *rand.Rand) *dataset.Dataset {
	ds := &dataset.Dataset{CRS: CRS, Election: cfg.Election}

	layers := map[hierarchy.Layer]map[Coord]string{
		hierarchy.Congressional: stripes(g, cfg.Congressional),
	}
	ds.Layers = []hierarchy.Layer{hierarchy.Congressional}
	if cfg.HouseDistricts > 0 {
		layers[hierarchy.StateHouse] = stripes(g, cfg.HouseDistricts)
		ds.Layers = append(ds.Layers, hierarchy.StateHouse)
	}
	if cfg.SenateDistricts > 0 {
		layers[hierarchy.StateSenate] = stripes(g, cfg.SenateDistricts)
		ds.Layers = append(ds.Layers, hierarchy.StateSenate)
	}

	type acc struct {
		pop     int
		density float64
		cells   int
	}
	counties := map[string]*acc{}
	var countyIDs []string

	for col := 0; col < g.Cols; col++ {
		for row := 0; row < g.Rows; row++ {
			cell := g.Get(Coord{col, row})
			cid := countyID(cell.Coord, cfg.CountySize)
			a, ok := counties[cid]
			if !ok {
				a = &acc{}
				counties[cid] = a
				countyIDs = append(countyIDs, cid)
			}
			a.pop += cell.Population
			a.density += cell.Density
			a.cells++

			p := dataset.Precinct{
				ID:         cell.ID(),
				County:     cid,
				Districts:  map[hierarchy.Layer]string{},
				Population: cell.Population,
				Red:        cell.Red,
				Blue:       cell.Blue,
				Geometry:   cellGeometry(cell.Coord, cfg.CellSize),
			}
			for layer, assign := range layers {
				p.Districts[layer] = assign[cell.Coord]
			}
			ds.Precincts = append(ds.Precincts, p)
		}
	}

	names := generateNames(rng, len(countyIDs))
	for i, cid := range countyIDs {
		a := counties[cid]
		ds.Counties = append(ds.Counties, dataset.County{
			ID:         cid,
			Name:       names[i],
			Urbanicity: urbanicityFor(a.density / float64(a.cells)),
			Population: a.pop,
			Capacity:   int(math.Ceil(float64(a.pop) * (1 + cfg.CapacitySlack))),
		})
	}
	return ds
}

func countyID(c Coord, size int) string {
	return fmt.Sprintf("C%02d%02d", c.Col/size, c.Row/size)
}

func cellGeometry(c Coord, size float64) orb.MultiPolygon {
	x0, y0 := float64(c.Col)*size, float64(c.Row)*size
	x1, y1 := x0+size, y0+size
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

// stripes cuts the snake ordering into k contiguous runs of roughly equal
// population. District ids are "1".."k".
func stripes(g *Grid, k int) map[Coord]string {
	order := g.SnakeOrder()
	total := 0
	for _, c := range order {
		total += g.Get(c).Population
	}
	target := float64(total) / float64(k)

	out := make(map[Coord]string, len(order))
	cum := 0
	idx := 0
	for i, c := range order {
		pop := g.Get(c).Population
		mid := float64(cum) + float64(pop)/2
		want := min(k-1, int(mid/target))
		// Leave at least one cell for every remaining district.
		remaining := len(order) - i
		if k-1-want >= remaining {
			want = k - remaining
		}
		if want > idx {
			idx = min(want, idx+1)
		}
		out[c] = fmt.Sprint(idx + 1)
		cum += pop
	}
	return out
}

// urbanicityFor maps mean county density onto the rural–urban continuum.
func urbanicityFor(density float64) hierarchy.Urbanicity {
	switch {
	case density >= 0.6:
		return hierarchy.Urban
	case density >= 0.42:
		return hierarchy.LargeTown
	case density >= 0.28:
		return hierarchy.SmallTown
	default:
		return hierarchy.Rural
	}
}

// octaveNoise layers multiple frequencies of simplex noise for natural variation.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
