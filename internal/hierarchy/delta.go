package hierarchy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrStaleDelta is returned when a move's source district does not match the
// precinct's current owner and the move has not already been applied.
var ErrStaleDelta = errors.New("delta does not match current assignment")

// Move reassigns one precinct between districts of a layer.
type Move struct {
	PrecinctID string `json:"precinct_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Delta is the full set of precinct moves of one redistricting commit.
type Delta struct {
	Layer Layer  `json:"layer"`
	Moves []Move `json:"moves"`
}

// Empty reports whether the delta has no moves.
func (d Delta) Empty() bool { return len(d.Moves) == 0 }

// DiffAssignment computes the moves that turn the layer's current assignment
// into next. Precincts absent from next are left where they are.
func (x *Index) DiffAssignment(layer Layer, next map[string]string) Delta {
	delta := Delta{Layer: layer}
	for _, pid := range x.precinctIDs {
		to, ok := next[pid]
		if !ok {
			continue
		}
		from := x.precinctDistrict[layer][pid]
		if from != to {
			delta.Moves = append(delta.Moves, Move{PrecinctID: pid, From: from, To: to})
		}
	}
	return delta
}

// ReassignPrecinct moves a precinct's membership and tallies to another
// district of the layer. Reassigning to the current owner is a no-op.
// Geometry is not re-dissolved; ApplyDelta does that once per commit.
func (x *Index) ReassignPrecinct(layer Layer, precinctID, districtID string) error {
	p, ok := x.precincts[precinctID]
	if !ok {
		return fmt.Errorf("reassign precinct %s: %w", precinctID, ErrNotFound)
	}
	to, ok := x.districts[layer][districtID]
	if !ok {
		return fmt.Errorf("reassign precinct %s to %s: %w", precinctID, districtID, ErrNotFound)
	}
	fromID := x.precinctDistrict[layer][precinctID]
	if fromID == districtID {
		return nil
	}
	if from, ok := x.districts[layer][fromID]; ok {
		from.tally = from.tally.Minus(p.tally)
		from.removeMember(precinctID)
	}
	to.tally = to.tally.Plus(p.tally)
	if !to.hasMember(precinctID) {
		to.Precincts = append(to.Precincts, precinctID)
	}
	x.precinctDistrict[layer][precinctID] = districtID
	return nil
}

// ApplyDelta validates every move against the current assignment, then
// reassigns each precinct exactly once, re-dissolves the changed districts
// and recounts their tallies from membership. Nothing is mutated when
// validation fails. Moves already reflected in the assignment are skipped,
// so re-applying a committed delta is a no-op. It returns the number of
// precincts actually reassigned.
func (x *Index) ApplyDelta(d Delta) (int, error) {
	if d.Layer >= NumLayers {
		return 0, fmt.Errorf("apply delta: layer %d: %w", d.Layer, ErrNotFound)
	}
	seen := make(map[string]bool, len(d.Moves))
	pending := make([]Move, 0, len(d.Moves))
	for _, m := range d.Moves {
		if seen[m.PrecinctID] {
			return 0, fmt.Errorf("apply delta: precinct %s moved twice", m.PrecinctID)
		}
		seen[m.PrecinctID] = true
		if _, ok := x.precincts[m.PrecinctID]; !ok {
			return 0, fmt.Errorf("apply delta: precinct %s: %w", m.PrecinctID, ErrNotFound)
		}
		if _, ok := x.districts[d.Layer][m.To]; !ok {
			return 0, fmt.Errorf("apply delta: district %s: %w", m.To, ErrNotFound)
		}
		cur := x.precinctDistrict[d.Layer][m.PrecinctID]
		switch cur {
		case m.To:
			continue
		case m.From:
			pending = append(pending, m)
		default:
			return 0, fmt.Errorf("apply delta: precinct %s owned by %s, expected %s: %w",
				m.PrecinctID, cur, m.From, ErrStaleDelta)
		}
	}

	changed := make(map[string]bool)
	for _, m := range pending {
		if err := x.ReassignPrecinct(d.Layer, m.PrecinctID, m.To); err != nil {
			return 0, err
		}
		changed[m.From] = true
		changed[m.To] = true
	}

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		dist, ok := x.districts[d.Layer][id]
		if !ok {
			continue
		}
		sort.Strings(dist.Precincts)
		x.dissolve(dist)
		x.recountDistrict(dist)
		dist.UpdateMajority()
	}
	return len(pending), nil
}
