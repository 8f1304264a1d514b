package redistrict

import "sort"

// Reconcile maps the arbitrary part labels of next onto the district ids of
// the current plan by greatest overlapping area. current[i] indexes labels.
// Pairs are taken greedily from the largest overlap down, each label and id
// used once; labels left over take the unused ids in order.
func Reconcile(g *Graph, next, current Assignment, labels []string) []string {
	k := len(labels)
	overlap := make([][]float64, k)
	for i := range overlap {
		overlap[i] = make([]float64, k)
	}
	for i, n := range g.Nodes {
		if next[i] < k && current[i] < k {
			overlap[next[i]][current[i]] += n.Area
		}
	}

	type pair struct {
		part, old int
		area      float64
	}
	var pairs []pair
	for p := 0; p < k; p++ {
		for o := 0; o < k; o++ {
			if overlap[p][o] > 0 {
				pairs = append(pairs, pair{p, o, overlap[p][o]})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].area != pairs[j].area {
			return pairs[i].area > pairs[j].area
		}
		if pairs[i].part != pairs[j].part {
			return pairs[i].part < pairs[j].part
		}
		return pairs[i].old < pairs[j].old
	})

	out := make([]string, k)
	usedOld := make([]bool, k)
	for _, pr := range pairs {
		if out[pr.part] != "" || usedOld[pr.old] {
			continue
		}
		out[pr.part] = labels[pr.old]
		usedOld[pr.old] = true
	}
	o := 0
	for p := range out {
		if out[p] != "" {
			continue
		}
		for usedOld[o] {
			o++
		}
		out[p] = labels[o]
		usedOld[o] = true
	}
	return out
}
