package hierarchy

import (
	"errors"
	"fmt"
)

// ErrInvariant reports corrupted aggregate bookkeeping.
var ErrInvariant = errors.New("hierarchy invariant violated")

// CheckInvariants verifies tally consistency, that every precinct belongs to
// exactly one district of each active layer, and that parent tallies equal
// the sums of their member precincts.
func (x *Index) CheckInvariants() error {
	total := Tally{}
	for _, id := range x.precinctIDs {
		t := x.precincts[id].tally
		if !t.Consistent() {
			return fmt.Errorf("precinct %s tally %+v: %w", id, t, ErrInvariant)
		}
		total = total.Plus(t)
	}

	countySum := Tally{}
	for _, id := range x.countyIDs {
		c := x.counties[id]
		if !c.tally.Consistent() {
			return fmt.Errorf("county %s tally %+v: %w", id, c.tally, ErrInvariant)
		}
		var members Tally
		for _, pid := range c.Precincts {
			members = members.Plus(x.precincts[pid].tally)
		}
		if members != c.tally {
			return fmt.Errorf("county %s tally %+v, members sum %+v: %w", id, c.tally, members, ErrInvariant)
		}
		countySum = countySum.Plus(c.tally)
	}
	if countySum != total {
		return fmt.Errorf("county total %+v, precinct total %+v: %w", countySum, total, ErrInvariant)
	}

	for _, layer := range x.Layers() {
		owner := make(map[string]string, len(x.precinctIDs))
		layerSum := Tally{}
		for _, did := range x.districtIDs[layer] {
			d := x.districts[layer][did]
			if !d.tally.Consistent() {
				return fmt.Errorf("%s district %s tally %+v: %w", layer, did, d.tally, ErrInvariant)
			}
			var members Tally
			for _, pid := range d.Precincts {
				if prev, dup := owner[pid]; dup {
					return fmt.Errorf("precinct %s in %s districts %s and %s: %w", pid, layer, prev, did, ErrInvariant)
				}
				owner[pid] = did
				if x.precinctDistrict[layer][pid] != did {
					return fmt.Errorf("precinct %s listed in %s but mapped to %s: %w",
						pid, did, x.precinctDistrict[layer][pid], ErrInvariant)
				}
				members = members.Plus(x.precincts[pid].tally)
			}
			if members != d.tally {
				return fmt.Errorf("%s district %s tally %+v, members sum %+v: %w", layer, did, d.tally, members, ErrInvariant)
			}
			layerSum = layerSum.Plus(d.tally)
		}
		if len(owner) != len(x.precinctIDs) {
			return fmt.Errorf("%s layer covers %d of %d precincts: %w", layer, len(owner), len(x.precinctIDs), ErrInvariant)
		}
		if layerSum != total {
			return fmt.Errorf("%s layer total %+v, precinct total %+v: %w", layer, layerSum, total, ErrInvariant)
		}
	}
	return nil
}
