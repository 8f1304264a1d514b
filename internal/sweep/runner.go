package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/gerrysort/internal/config"
	"github.com/talgya/gerrysort/internal/dataset"
	"github.com/talgya/gerrysort/internal/engine"
	"github.com/talgya/gerrysort/internal/hierarchy"
	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/redistrict"
)

// Runner executes simulations over a shared read-only dataset and stores
// their output.
type Runner struct {
	Base     *config.Config
	Dataset  *dataset.Dataset
	DB       *persistence.DB     // Optional
	Searcher redistrict.Searcher // nil means recombination
}

// Job applies the job's overrides and seed to the base config and runs it.
func (r *Runner) Job(ctx context.Context, job Job) (string, error) {
	cfg := r.Base.Clone()
	if err := cfg.Apply(job.Overrides); err != nil {
		return "", err
	}
	if job.Seed != 0 {
		cfg.Simulation.Seed = job.Seed
	}
	runID, _, err := r.Execute(ctx, cfg, job.ID)
	return runID, err
}

// Execute runs one simulation to convergence and returns the stored run id
// and the final simulation.
func (r *Runner) Execute(ctx context.Context, cfg *config.Config, jobID string) (string, *engine.Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("config: %w", err)
	}
	params, err := engine.ParamsFromConfig(cfg.Simulation)
	if err != nil {
		return "", nil, fmt.Errorf("config: %w", err)
	}
	sim, err := engine.New(r.Dataset, params, r.Searcher)
	if err != nil {
		return "", nil, err
	}

	var runID string
	if r.DB != nil {
		run, err := r.DB.CreateRun(jobID, sim.Source.Seed(), cfg)
		if err != nil {
			return "", sim, err
		}
		runID = run.ID
		if err := r.DB.SaveSnapshot(runID, sim.Latest()); err != nil {
			return runID, sim, err
		}
	}

	eng := engine.NewEngine(sim)
	eng.OnRound = func(rep engine.Report) error {
		if r.DB == nil {
			return nil
		}
		if err := r.DB.SaveSnapshot(runID, rep.Snapshot); err != nil {
			return err
		}
		if cfg.Simulation.SavePlans && rep.Plan != nil {
			return r.DB.SavePlan(runID, rep.Snapshot.Round, hierarchy.Congressional.String(), rep.Plan)
		}
		return nil
	}
	runErr := eng.Run(ctx)

	if r.DB != nil {
		if err := r.DB.FinishRun(runID, runErr); err != nil {
			slog.Error("finish run", "run", runID, "error", err)
		}
	}
	return runID, sim, runErr
}
