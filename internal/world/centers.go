package world

import (
	"math"
	"math/rand"
	"sort"
)

// Center is an urban core around which density peaks.
type Center struct {
	Coord Coord
	Score float64
}

// PlaceCenters picks up to n urban cores on the highest-scoring cells,
// keeping at least minDist cells between them. Ties are broken by
// coordinate so placement is deterministic for a given grid.
func PlaceCenters(g *Grid, n, minDist int) []Center {
	candidates := make([]Center, 0, len(g.Cells))
	for coord, cell := range g.Cells {
		candidates = append(candidates, Center{Coord: coord, Score: cell.Density})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Coord.Col != candidates[j].Coord.Col {
			return candidates[i].Coord.Col < candidates[j].Coord.Col
		}
		return candidates[i].Coord.Row < candidates[j].Coord.Row
	})

	var centers []Center
	for _, c := range candidates {
		if len(centers) >= n {
			break
		}
		if tooClose(c.Coord, centers, minDist) {
			continue
		}
		centers = append(centers, c)
	}
	return centers
}

func tooClose(coord Coord, existing []Center, minDist int) bool {
	for _, c := range existing {
		if Distance(coord, c.Coord) < minDist {
			return true
		}
	}
	return false
}

// centerPull returns the density contribution of the nearest center,
// decaying exponentially with distance.
func centerPull(coord Coord, centers []Center, radius float64) float64 {
	best := 0.0
	for _, c := range centers {
		dc := float64(coord.Col - c.Coord.Col)
		dr := float64(coord.Row - c.Coord.Row)
		v := math.Exp(-math.Hypot(dc, dr) / radius)
		if v > best {
			best = v
		}
	}
	return best
}

// generateNames produces procedural county names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	suffixes := []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "field",
		"stead", "wood", "dale", "crest", "vale", "port", "bury",
		"marsh", "well", "brook", "cliff", "moor", "ridge", "falls",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)
	for len(names) < count {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if used[name] && len(used) < len(prefixes)*len(suffixes) {
			continue
		}
		used[name] = true
		names = append(names, name)
	}
	return names
}
