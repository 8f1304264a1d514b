package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/gerrysort/internal/config"
	"github.com/talgya/gerrysort/internal/dataset"
	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a parameter grid of independent simulations",
		Long: `sweep expands sweep.grid (plus --param flags) into jobs, one per grid
point and repeat, and runs them on a worker pool. Jobs already recorded
as done in the database are skipped, so an interrupted sweep can be
re-run. With sweep.queue=redis the jobs are also visible to
"gerrysort worker" processes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			params, _ := cmd.Flags().GetStringArray("param")
			grid, err := parseGrid(cfg.Sweep.Grid, params)
			if err != nil {
				return err
			}
			jobs, err := sweep.Expand(grid, cfg.Sweep.Repeats, cfg.Simulation.Seed)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			queue, closeQueue, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeQueue()
			if err := queue.Push(ctx, jobs...); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			slog.Info("sweep enqueued", "jobs", len(jobs), "queue", cfg.Sweep.Queue)

			if enqueueOnly, _ := cmd.Flags().GetBool("enqueue-only"); enqueueOnly {
				return nil
			}
			ds, err := loadDataset(cfg)
			if err != nil {
				return err
			}
			return drain(ctx, cmd, cfg, ds, db, queue)
		},
	}
	cmd.Flags().StringArray("param", nil, "Grid axis as dotted.key=v1,v2,... (repeatable)")
	cmd.Flags().Bool("enqueue-only", false, "Push jobs to the queue without running them")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run sweep jobs from the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Sweep.Queue != "redis" {
				return fmt.Errorf("worker needs sweep.queue=redis, got %q", cfg.Sweep.Queue)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			queue, closeQueue, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeQueue()
			ds, err := loadDataset(cfg)
			if err != nil {
				return err
			}

			once, _ := cmd.Flags().GetBool("once")
			idle, _ := cmd.Flags().GetDuration("idle")
			for {
				if err := drain(ctx, cmd, cfg, ds, db, queue); err != nil {
					return err
				}
				if once || ctx.Err() != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(idle):
				}
			}
		},
	}
	cmd.Flags().Bool("once", false, "Exit when the queue is empty")
	cmd.Flags().Duration("idle", 5*time.Second, "Wait between polls of an empty queue")
	return cmd
}

// openQueue returns the configured queue and its cleanup. A Redis queue
// first recovers jobs left in flight by crashed workers.
func openQueue(ctx context.Context, cfg *config.Config) (sweep.Queue, func(), error) {
	if cfg.Sweep.Queue != "redis" {
		return sweep.NewMemoryQueue(), func() {}, nil
	}
	rc, err := sweep.OpenRedis(ctx, cfg.Sweep.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	q := sweep.NewRedisQueue(rc, cfg.Sweep.RedisKey, 2*time.Second)
	if n, err := q.Recover(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("recover jobs: %w", err)
	} else if n > 0 {
		slog.Warn("recovered in-flight jobs", "jobs", n)
	}
	return q, func() { rc.Close() }, nil
}

// drain runs queued jobs until the queue is empty and prints the summary.
func drain(ctx context.Context, cmd *cobra.Command, cfg *config.Config, ds *dataset.Dataset, db *persistence.DB, queue sweep.Queue) error {
	runner := &sweep.Runner{Base: cfg, Dataset: ds, DB: db}
	pool := &sweep.Pool{
		Queue:       queue,
		Run:         runner.Job,
		Ledger:      db,
		Workers:     cfg.Sweep.Workers,
		MaxAttempts: cfg.Sweep.MaxAttempts,
	}
	sum, err := pool.Drain(ctx)
	if err != nil {
		return err
	}
	if sum.Done+sum.Failed+sum.Skipped == 0 {
		return nil
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(sum)
}

// parseGrid merges --param axes over the configured grid.
func parseGrid(base map[string][]string, params []string) (map[string][]string, error) {
	grid := make(map[string][]string, len(base)+len(params))
	for k, v := range base {
		grid[k] = append([]string(nil), v...)
	}
	for _, p := range params {
		k, vals, ok := strings.Cut(p, "=")
		if !ok || k == "" || vals == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=v1,v2", p)
		}
		var list []string
		for _, v := range strings.Split(vals, ",") {
			list = append(list, strings.TrimSpace(v))
		}
		grid[strings.TrimSpace(k)] = list
	}
	return grid, nil
}
