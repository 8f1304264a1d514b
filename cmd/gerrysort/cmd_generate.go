package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/gerrysort/internal/world"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic state as a normalized precinct GeoJSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			ds, grid, err := world.Generate(genConfig(cfg))
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := world.WriteGeoJSON(f, ds); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			if show, _ := cmd.Flags().GetBool("print"); show {
				fmt.Fprintln(cmd.OutOrStdout(), grid.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d precincts in %d counties to %s\n", len(ds.Precincts), len(ds.Counties), out)
			return nil
		},
	}
	cmd.Flags().String("out", "state.geojson", "Output path")
	cmd.Flags().Bool("print", false, "Print the urbanicity map")
	return cmd
}
