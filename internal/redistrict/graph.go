// Package redistrict searches for district plans that favor a controlling
// party (or fairness), reconciles their labels with the existing districts
// and produces the precinct reassignment delta.
package redistrict

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/talgya/gerrysort/internal/geo"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Node is one precinct of the partition graph.
type Node struct {
	ID         string
	Population int
	Red        int
	Blue       int
	Area       float64
	Perimeter  float64
}

// Graph is a read-only snapshot of precinct tallies and adjacency.
type Graph struct {
	Nodes []Node
	Adj   [][]int
	Edges []geo.Edge // I < J, sorted

	shared map[[2]int]float64
	index  map[string]int
}

// NewGraph builds a graph from nodes and weighted edges.
func NewGraph(nodes []Node, edges []geo.Edge) *Graph {
	g := &Graph{
		Nodes:  nodes,
		Adj:    make([][]int, len(nodes)),
		shared: make(map[[2]int]float64, len(edges)),
		index:  make(map[string]int, len(nodes)),
	}
	for i, n := range nodes {
		g.index[n.ID] = i
	}
	for _, e := range edges {
		i, j := e.I, e.J
		if i == j {
			continue
		}
		if i > j {
			i, j = j, i
		}
		if _, dup := g.shared[[2]int{i, j}]; dup {
			continue
		}
		g.shared[[2]int{i, j}] = e.Length
		g.Edges = append(g.Edges, geo.Edge{I: i, J: j, Length: e.Length})
		g.Adj[i] = append(g.Adj[i], j)
		g.Adj[j] = append(g.Adj[j], i)
	}
	for i := range g.Adj {
		sort.Ints(g.Adj[i])
	}
	sort.Slice(g.Edges, func(a, b int) bool {
		if g.Edges[a].I != g.Edges[b].I {
			return g.Edges[a].I < g.Edges[b].I
		}
		return g.Edges[a].J < g.Edges[b].J
	})
	return g
}

// Snapshot captures the current precinct tallies and adjacency of idx, and
// the layer's current assignment as part labels. labels[k] is the district
// id of part k.
func Snapshot(idx *hierarchy.Index, layer hierarchy.Layer) (*Graph, Assignment, []string) {
	precincts := idx.Precincts()
	nodes := make([]Node, len(precincts))
	pos := make(map[string]int, len(precincts))
	for i, p := range precincts {
		t := p.Tally()
		nodes[i] = Node{
			ID:         p.ID(),
			Population: t.Population,
			Red:        t.Red,
			Blue:       t.Blue,
			Area:       p.Area,
			Perimeter:  p.Perimeter,
		}
		pos[p.ID()] = i
	}
	var edges []geo.Edge
	for i, p := range precincts {
		for _, nid := range idx.Neighbors(p.ID()) {
			j := pos[nid]
			if i < j {
				edges = append(edges, geo.Edge{I: i, J: j, Length: idx.SharedLength(p.ID(), nid)})
			}
		}
	}
	g := NewGraph(nodes, edges)

	labels := append([]string(nil), idx.IDs(hierarchy.DistrictLevel(layer))...)
	part := make(map[string]int, len(labels))
	for k, id := range labels {
		part[id] = k
	}
	a := make(Assignment, len(nodes))
	for i, n := range nodes {
		a[i] = part[idx.DistrictOf(layer, n.ID)]
	}
	return g, a, labels
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// Index returns the node position of a precinct id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// SharedLength returns the boundary length between adjacent nodes.
func (g *Graph) SharedLength(i, j int) float64 {
	if i > j {
		i, j = j, i
	}
	return g.shared[[2]int{i, j}]
}

// TotalPopulation sums node populations.
func (g *Graph) TotalPopulation() int {
	total := 0
	for _, n := range g.Nodes {
		total += n.Population
	}
	return total
}

// Assignment maps node position to part label 0..k-1.
type Assignment []int

// Clone returns a copy of a.
func (a Assignment) Clone() Assignment {
	return append(Assignment(nil), a...)
}

// Parts returns the number of parts, max label + 1.
func (a Assignment) Parts() int {
	k := 0
	for _, p := range a {
		if p+1 > k {
			k = p + 1
		}
	}
	return k
}

// PartStats aggregates one part of a plan.
type PartStats struct {
	Population int
	Red        int
	Blue       int
	Area       float64
	Perimeter  float64
}

// Majority returns the winning color of the part.
func (s PartStats) Majority() hierarchy.Color {
	return hierarchy.Tally{Population: s.Population, Red: s.Red, Blue: s.Blue}.Majority()
}

// Compactness returns the Polsby–Popper score of the part.
func (s PartStats) Compactness() float64 {
	return geo.PolsbyPopper(s.Area, s.Perimeter)
}

// Stats aggregates every part of a; dissolved perimeters drop boundaries
// shared inside a part.
func (g *Graph) Stats(a Assignment, k int) []PartStats {
	out := make([]PartStats, k)
	for i, n := range g.Nodes {
		s := &out[a[i]]
		s.Population += n.Population
		s.Red += n.Red
		s.Blue += n.Blue
		s.Area += n.Area
		s.Perimeter += n.Perimeter
	}
	for _, e := range g.Edges {
		if a[e.I] == a[e.J] {
			out[a[e.I]].Perimeter -= 2 * e.Length
		}
	}
	for i := range out {
		if out[i].Perimeter < 0 {
			out[i].Perimeter = 0
		}
	}
	return out
}

// Constraints bound a feasible plan.
type Constraints struct {
	Parts      int
	Epsilon    float64 // Max relative deviation from the ideal population
	Contiguous bool
}

// Ideal returns the ideal per-part population.
func (g *Graph) Ideal(parts int) float64 {
	if parts <= 0 {
		return 0
	}
	return float64(g.TotalPopulation()) / float64(parts)
}

func withinEpsilon(pop int, ideal, eps float64) bool {
	return float64(pop) >= ideal*(1-eps) && float64(pop) <= ideal*(1+eps)
}

// Balanced reports whether every part is within epsilon of the ideal.
func (g *Graph) Balanced(a Assignment, c Constraints) bool {
	ideal := g.Ideal(c.Parts)
	pops := make([]int, c.Parts)
	for i, n := range g.Nodes {
		if a[i] < 0 || a[i] >= c.Parts {
			return false
		}
		pops[a[i]] += n.Population
	}
	for _, p := range pops {
		if !withinEpsilon(p, ideal, c.Epsilon) {
			return false
		}
	}
	return true
}

// Contiguous reports whether every part is a single connected component.
func (g *Graph) Contiguous(a Assignment, parts int) bool {
	if len(a) != len(g.Nodes) {
		return false
	}
	within := simple.NewUndirectedGraph()
	for i := range g.Nodes {
		if a[i] < 0 || a[i] >= parts {
			return false
		}
		within.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges {
		if a[e.I] == a[e.J] {
			within.SetEdge(within.NewEdge(simple.Node(e.I), simple.Node(e.J)))
		}
	}

	// Components never span two parts, so one per part means each part is
	// connected and none is empty.
	seen := make([]bool, parts)
	comps := topo.ConnectedComponents(within)
	for _, c := range comps {
		p := a[c[0].ID()]
		if seen[p] {
			return false
		}
		seen[p] = true
	}
	return len(comps) == parts
}

// Valid reports whether a satisfies every constraint.
func (g *Graph) Valid(a Assignment, c Constraints) bool {
	if len(a) != len(g.Nodes) {
		return false
	}
	if !g.Balanced(a, c) {
		return false
	}
	return !c.Contiguous || g.Contiguous(a, c.Parts)
}
