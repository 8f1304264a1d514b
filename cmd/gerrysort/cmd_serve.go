package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/gerrysort/internal/api"
	"github.com/talgya/gerrysort/internal/engine"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulation while serving its state over HTTP",
		Long: `serve runs one simulation round by round and exposes the live run and
every stored run on the status API. With --stored-only no simulation is
started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := &api.Server{
				DB:       db,
				AdminKey: cfg.API.AdminKey,
				Limiter:  api.NewRateLimiter(cfg.API.RateLimit, cfg.API.Burst),
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if storedOnly, _ := cmd.Flags().GetBool("stored-only"); storedOnly {
				return srv.ListenAndServe(ctx, cfg.API.Addr)
			}

			ds, err := loadDataset(cfg)
			if err != nil {
				return err
			}
			params, err := engine.ParamsFromConfig(cfg.Simulation)
			if err != nil {
				return err
			}
			sim, err := engine.New(ds, params, nil)
			if err != nil {
				return err
			}
			run, err := db.CreateRun("", sim.Source.Seed(), cfg)
			if err != nil {
				return err
			}
			if err := db.SaveSnapshot(run.ID, sim.Latest()); err != nil {
				return err
			}

			eng := engine.NewEngine(sim)
			eng.Interval, _ = cmd.Flags().GetDuration("interval")
			eng.OnRound = func(r engine.Report) error {
				if err := db.SaveSnapshot(run.ID, r.Snapshot); err != nil {
					return err
				}
				if cfg.Simulation.SavePlans && r.Plan != nil {
					return db.SavePlan(run.ID, r.Snapshot.Round, hierarchy.Congressional.String(), r.Plan)
				}
				return nil
			}
			srv.Sim, srv.Eng, srv.RunID = sim, eng, run.ID

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Addr) })
			g.Go(func() error {
				runErr := eng.Run(gctx)
				if err := db.FinishRun(run.ID, runErr); err != nil {
					slog.Error("finish run", "run", run.ID, "error", err)
				}
				if errors.Is(runErr, context.Canceled) {
					return nil
				}
				if runErr != nil {
					return runErr
				}
				slog.Info("run complete, still serving", "run", run.ID, "rounds", sim.Round())
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().Duration("interval", time.Second, "Minimum wall time per round")
	cmd.Flags().Bool("stored-only", false, "Serve stored runs without starting a simulation")
	return cmd
}
