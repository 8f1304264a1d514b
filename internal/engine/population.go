package engine

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/gerrysort/internal/agents"
	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// buildPopulation spawns households on the spawn stream and checks the
// tallies it produced against the hierarchy.
func buildPopulation(idx *hierarchy.Index, cfg agents.SpawnConfig, src *entropy.Source) (*agents.Population, error) {
	pop, err := agents.NewSpawner(src.Rand(entropy.StreamSpawn)).Spawn(idx, cfg)
	if err != nil {
		return nil, err
	}
	if pop.Len() != idx.TotalPopulation() {
		return nil, fmt.Errorf("%w: spawned %d households but hierarchy counts %d",
			hierarchy.ErrInvariant, pop.Len(), idx.TotalPopulation())
	}

	full := 0
	for _, c := range idx.Counties() {
		if !c.HasSpace() {
			full++
		}
	}
	slog.Info("population spawned",
		"households", humanize.Comma(int64(pop.Len())),
		"red", humanize.Comma(int64(pop.NRed)),
		"blue", humanize.Comma(int64(pop.NBlue)),
		"full_counties", full,
	)
	return pop, nil
}
