// Command gerrysort simulates partisan self-sorting under repeated
// gerrymandering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/gerrysort/internal/config"
	"github.com/talgya/gerrysort/internal/dataset"
	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/logging"
	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/world"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gerrysort",
		Short: "Partisan self-sorting and redistricting simulator",
		Long: `gerrysort runs households that relocate toward like-minded places while
the controlling party redraws district plans every round, and records
fairness, competitiveness and segregation statistics per round.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before GERRYSORT_* overrides")
	rootCmd.PersistentFlags().StringArray("set", nil, "Config override as dotted.key=value (repeatable)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newSweepCmd(),
		newWorkerCmd(),
		newGenerateCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gerrysort version %s\n", version)
		},
	}
}

// loadConfig applies the persistent flags over the layered config and
// installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, err
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	overrides, err := parseSets(sets)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return cfg, nil
}

func parseSets(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// loadDataset reads the configured precinct file, or generates a world
// when none is set.
func loadDataset(cfg *config.Config) (*dataset.Dataset, error) {
	if cfg.Dataset.Precincts != "" {
		ds, err := dataset.Load(cfg.Dataset.Precincts, cfg.Dataset.Counties, cfg.Simulation.Election)
		if err != nil {
			return nil, err
		}
		slog.Info("dataset loaded", "precincts", len(ds.Precincts), "counties", len(ds.Counties), "crs", ds.CRS)
		return ds, nil
	}
	ds, _, err := world.Generate(genConfig(cfg))
	if err != nil {
		return nil, err
	}
	slog.Info("world generated", "precincts", len(ds.Precincts), "counties", len(ds.Counties))
	return ds, nil
}

func genConfig(cfg *config.Config) world.GenConfig {
	g := cfg.Dataset.Generate
	gc := world.DefaultGenConfig()
	gc.Cols, gc.Rows = g.Cols, g.Rows
	gc.CountySize = g.CountySize
	gc.Congressional = g.Congressional
	gc.HouseDistricts = g.HouseDistricts
	gc.SenateDistricts = g.SenateDistricts
	gc.Centers = g.Centers
	gc.Election = cfg.Simulation.Election
	if seed := cfg.Simulation.Seed; seed != 0 {
		gc.Seed = entropy.NewSource(seed).StreamSeed(entropy.StreamGenerate)
	}
	return gc
}

func openDB(cfg *config.Config) (*persistence.DB, error) {
	return persistence.Open(cfg.Storage.Driver, cfg.Storage.DSN)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
