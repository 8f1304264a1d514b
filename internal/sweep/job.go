// Package sweep runs independent simulations over a parameter grid with a
// pool of workers fed from a job queue.
package sweep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// jobNamespace scopes job ids so the same grid point always maps to the
// same id across invocations.
var jobNamespace = uuid.MustParse("6f1c9f0e-2b7d-4b53-9a43-7c1d8e5b2a10")

// Job is one simulation run of a sweep.
type Job struct {
	ID        string            `json:"id"`
	Repeat    int               `json:"repeat"`
	Seed      int64             `json:"seed"`
	Overrides map[string]string `json:"overrides"`
	Attempts  int               `json:"attempts"`
}

// Key renders the overrides in key order.
func (j Job) Key() string {
	keys := make([]string, 0, len(j.Overrides))
	for k := range j.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + j.Overrides[k]
	}
	return strings.Join(parts, ",")
}

// Expand returns the cartesian product of grid, repeated repeats times.
// Keys are dotted config paths. With a non-zero baseSeed each job gets
// baseSeed plus its position; otherwise seeds stay zero and each run draws
// its own.
func Expand(grid map[string][]string, repeats int, baseSeed int64) ([]Job, error) {
	if repeats < 1 {
		return nil, fmt.Errorf("sweep: repeats must be at least 1, got %d", repeats)
	}
	keys := make([]string, 0, len(grid))
	for k, vals := range grid {
		if len(vals) == 0 {
			return nil, fmt.Errorf("sweep: parameter %s has no values", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := []map[string]string{{}}
	for _, k := range keys {
		next := make([]map[string]string, 0, len(points)*len(grid[k]))
		for _, p := range points {
			for _, v := range grid[k] {
				q := make(map[string]string, len(p)+1)
				for pk, pv := range p {
					q[pk] = pv
				}
				q[k] = v
				next = append(next, q)
			}
		}
		points = next
	}

	jobs := make([]Job, 0, len(points)*repeats)
	for _, p := range points {
		for r := 0; r < repeats; r++ {
			j := Job{Repeat: r, Overrides: p}
			if baseSeed != 0 {
				j.Seed = baseSeed + int64(len(jobs))
			}
			j.ID = uuid.NewSHA1(jobNamespace, []byte(fmt.Sprintf("%s#%d#%d", j.Key(), r, j.Seed))).String()
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}
