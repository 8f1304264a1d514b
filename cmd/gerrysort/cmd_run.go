package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/sweep"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation to convergence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ds, err := loadDataset(cfg)
			if err != nil {
				return err
			}

			noStore, _ := cmd.Flags().GetBool("no-store")
			runner := &sweep.Runner{Base: cfg, Dataset: ds}
			if !noStore {
				db, err := openDB(cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				runner.DB = db
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			runID, sim, err := runner.Execute(ctx, cfg, "")
			if sim == nil {
				return err
			}

			history := sim.History()
			if path := cfg.Storage.CSV; path != "" {
				f, cerr := os.Create(path)
				if cerr != nil {
					return cerr
				}
				if cerr := persistence.WriteCSV(f, history); cerr != nil {
					f.Close()
					return cerr
				}
				if cerr := f.Close(); cerr != nil {
					return cerr
				}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"run_id": runID, "seed": sim.Source.Seed(), "history": history})
			}
			last := history[len(history)-1]
			fmt.Fprintf(out, "run %s seed %d: %d rounds, control %s, projected winner %s, efficiency gap %.4f\n",
				runID, sim.Source.Seed(), last.Round, last.Control, last.ProjectedWinner, last.EfficiencyGap)
			return nil
		},
	}
	cmd.Flags().Bool("no-store", false, "Do not write to the database")
	cmd.Flags().Bool("json", false, "Print the snapshot history as JSON")
	return cmd
}
