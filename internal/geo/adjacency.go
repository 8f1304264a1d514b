package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// segmentScale quantizes coordinates before hashing so that vertices written
// with slightly different precision still match.
const segmentScale = 1e6

type segmentKey [4]int64

func quantize(p orb.Point) [2]int64 {
	return [2]int64{int64(math.Round(p.X() * segmentScale)), int64(math.Round(p.Y() * segmentScale))}
}

func keyFor(a, b orb.Point) segmentKey {
	qa, qb := quantize(a), quantize(b)
	if qb[0] < qa[0] || (qb[0] == qa[0] && qb[1] < qa[1]) {
		qa, qb = qb, qa
	}
	return segmentKey{qa[0], qa[1], qb[0], qb[1]}
}

// Edge is a shared boundary between two units, I < J.
type Edge struct {
	I, J   int
	Length float64
}

// SharedBoundaries finds pairs of polygons that share boundary segments and
// the total shared length. Two units are adjacent only when they have an
// identical segment in common (rook adjacency on clean topology).
func SharedBoundaries(shapes []orb.MultiPolygon) []Edge {
	owners := make(map[segmentKey][]int)
	lengths := make(map[segmentKey]float64)

	for idx, mp := range shapes {
		seen := make(map[segmentKey]bool)
		for _, poly := range mp {
			for _, ring := range poly {
				for k := 0; k+1 < len(ring); k++ {
					a, b := ring[k], ring[k+1]
					if a == b {
						continue
					}
					key := keyFor(a, b)
					if seen[key] {
						continue
					}
					seen[key] = true
					owners[key] = append(owners[key], idx)
					lengths[key] = math.Hypot(b.X()-a.X(), b.Y()-a.Y())
				}
			}
		}
	}

	shared := make(map[[2]int]float64)
	for key, ids := range owners {
		if len(ids) < 2 {
			continue
		}
		for x := 0; x < len(ids); x++ {
			for y := x + 1; y < len(ids); y++ {
				i, j := ids[x], ids[y]
				if i > j {
					i, j = j, i
				}
				shared[[2]int{i, j}] += lengths[key]
			}
		}
	}

	edges := make([]Edge, 0, len(shared))
	for pair, l := range shared {
		edges = append(edges, Edge{I: pair[0], J: pair[1], Length: l})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].I != edges[b].I {
			return edges[a].I < edges[b].I
		}
		return edges[a].J < edges[b].J
	})
	return edges
}
