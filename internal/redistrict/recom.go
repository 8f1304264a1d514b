package redistrict

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Recombination search. Each step merges two adjacent parts, draws a random
// spanning tree of the merged region and cuts one tree edge whose two sides
// are both within epsilon of the ideal population.

// ReCom is the recombination Searcher.
type ReCom struct {
	MaxTreeAttempts int  // Spanning trees drawn per merged pair
	PairReselection bool // Try other adjacent pairs when a pair has no cut
	MaxRestarts     int  // Full restarts of the random initial plan
}

// DefaultReCom returns the standard recombination settings.
func DefaultReCom() *ReCom {
	return &ReCom{MaxTreeAttempts: 100, PairReselection: true, MaxRestarts: 20}
}

// Search implements Searcher. Every successful proposal is accepted; the
// best-scoring plan seen is returned.
func (r *ReCom) Search(ctx context.Context, g *Graph, initial Assignment, c Constraints, obj Objective, budget int, rng *rand.Rand) (Assignment, error) {
	cur := initial
	if !g.Valid(cur, c) {
		var ok bool
		cur, ok = r.RandomAssignment(g, c, rng)
		if !ok {
			return nil, ErrNoFeasiblePartition
		}
		slog.Debug("recom started from random plan", "parts", c.Parts)
	} else {
		cur = cur.Clone()
	}
	if c.Parts < 2 {
		return cur, nil
	}

	best := cur.Clone()
	bestScore := obj.Score(g.Stats(best, c.Parts))
	accepted, failed := 0, 0
	for step := 0; step < budget; step++ {
		if ctx.Err() != nil {
			slog.Debug("recom deadline reached", "step", step, "accepted", accepted)
			break
		}
		if !r.propose(g, cur, c, rng) {
			failed++
			if accepted == 0 {
				// Nothing in this state can be cut; later steps see the same state.
				return nil, ErrNoFeasiblePartition
			}
			continue
		}
		accepted++
		if s := obj.Score(g.Stats(cur, c.Parts)); s > bestScore {
			best, bestScore = cur.Clone(), s
		}
	}
	slog.Debug("recom finished", "accepted", accepted, "failed", failed, "score", bestScore)
	return best, nil
}

// propose mutates a in place on success.
func (r *ReCom) propose(g *Graph, a Assignment, c Constraints, rng *rand.Rand) bool {
	pairs := adjacentPairs(g, a)
	if len(pairs) == 0 {
		return false
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	if !r.PairReselection {
		pairs = pairs[:1]
	}
	ideal := g.Ideal(c.Parts)
	for _, pr := range pairs {
		var nodes []int
		for i, p := range a {
			if p == pr[0] || p == pr[1] {
				nodes = append(nodes, i)
			}
		}
		side, ok := r.bipartition(g, nodes, ideal, ideal, c.Epsilon, rng)
		if !ok {
			continue
		}
		for _, n := range nodes {
			a[n] = pr[1]
		}
		for _, n := range side {
			a[n] = pr[0]
		}
		return true
	}
	return false
}

// RandomAssignment builds a balanced contiguous plan by repeatedly cutting
// one ideal-sized subtree off a spanning tree of the unassigned region.
func (r *ReCom) RandomAssignment(g *Graph, c Constraints, rng *rand.Rand) (Assignment, bool) {
	if c.Parts <= 0 || g.Len() == 0 {
		return nil, false
	}
	ideal := g.Ideal(c.Parts)
	for restart := 0; restart <= r.MaxRestarts; restart++ {
		a := make(Assignment, g.Len())
		remaining := make([]int, g.Len())
		for i := range remaining {
			remaining[i] = i
		}
		ok := true
		for k := c.Parts - 1; k > 0; k-- {
			rest := ideal * float64(k)
			side, cut := r.bipartition(g, remaining, ideal, rest, c.Epsilon, rng)
			if !cut {
				ok = false
				break
			}
			in := make(map[int]bool, len(side))
			for _, n := range side {
				a[n] = k
				in[n] = true
			}
			next := remaining[:0:0]
			for _, n := range remaining {
				if !in[n] {
					next = append(next, n)
				}
			}
			remaining = next
		}
		if !ok {
			continue
		}
		for _, n := range remaining {
			a[n] = 0
		}
		if g.Valid(a, Constraints{Parts: c.Parts, Epsilon: c.Epsilon, Contiguous: true}) {
			return a, true
		}
	}
	return nil, false
}

// bipartition draws spanning trees over nodes until one has an edge
// whose subtree is within eps of target and whose remainder is within eps
// of rest. Returns the subtree side.
func (r *ReCom) bipartition(g *Graph, nodes []int, target, rest, eps float64, rng *rand.Rand) ([]int, bool) {
	attempts := max(1, r.MaxTreeAttempts)
	for try := 0; try < attempts; try++ {
		tree, ok := randomSpanningTree(g, nodes, rng)
		if !ok {
			return nil, false
		}
		if side, ok := balancedCut(g, nodes, tree, target, rest, eps, rng); ok {
			return side, true
		}
	}
	return nil, false
}

// adjacentPairs returns each pair of parts sharing an edge, lower label
// first, in sorted order.
func adjacentPairs(g *Graph, a Assignment) [][2]int {
	seen := make(map[[2]int]bool)
	var out [][2]int
	for _, e := range g.Edges {
		p, q := a[e.I], a[e.J]
		if p == q {
			continue
		}
		if p > q {
			p, q = q, p
		}
		if !seen[[2]int{p, q}] {
			seen[[2]int{p, q}] = true
			out = append(out, [2]int{p, q})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// randomSpanningTree draws a uniform random weight for every edge of the
// subgraph induced by nodes and takes its minimum spanning tree. Adjacency
// lists of the tree are keyed by local position in nodes. Fails when the
// subgraph is disconnected.
func randomSpanningTree(g *Graph, nodes []int, rng *rand.Rand) ([][]int, bool) {
	local := make(map[int]int, len(nodes))
	sub := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i, n := range nodes {
		local[n] = i
		sub.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges {
		li, okI := local[e.I]
		lj, okJ := local[e.J]
		if okI && okJ {
			sub.SetWeightedEdge(sub.NewWeightedEdge(simple.Node(li), simple.Node(lj), rng.Float64()))
		}
	}

	mst := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(mst, sub)

	tree := make([][]int, len(nodes))
	degree := 0
	for i := range nodes {
		to := mst.From(int64(i))
		for to.Next() {
			tree[i] = append(tree[i], int(to.Node().ID()))
			degree++
		}
		sort.Ints(tree[i])
	}
	return tree, degree == 2*(len(nodes)-1)
}

// balancedCut roots the tree, accumulates subtree populations and picks one
// qualifying edge uniformly. Returns the graph nodes below the cut.
func balancedCut(g *Graph, nodes []int, tree [][]int, target, rest, eps float64, rng *rand.Rand) ([]int, bool) {
	n := len(nodes)
	if n < 2 {
		return nil, false
	}
	parent := make([]int, n)
	order := make([]int, 0, n)
	for i := range parent {
		parent[i] = -1
	}
	parent[0] = 0
	stack := []int{0}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, v)
		for _, w := range tree[v] {
			if parent[w] == -1 {
				parent[w] = v
				stack = append(stack, w)
			}
		}
	}

	sub := make([]int, n)
	total := 0
	for i, gn := range nodes {
		sub[i] = g.Nodes[gn].Population
		total += sub[i]
	}
	for i := n - 1; i > 0; i-- {
		v := order[i]
		sub[parent[v]] += sub[v]
	}

	var cuts []int
	for _, v := range order[1:] {
		if withinEpsilon(sub[v], target, eps) && withinEpsilon(total-sub[v], rest, eps) {
			cuts = append(cuts, v)
		}
	}
	if len(cuts) == 0 {
		return nil, false
	}
	root := cuts[rng.Intn(len(cuts))]

	children := make([][]int, n)
	for _, v := range order[1:] {
		children[parent[v]] = append(children[parent[v]], v)
	}
	var side []int
	stack = []int{root}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		side = append(side, nodes[v])
		stack = append(stack, children[v]...)
	}
	return side, true
}
