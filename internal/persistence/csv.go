package persistence

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/talgya/gerrysort/internal/stats"
)

var csvHeader = []string{
	"round", "control", "moves", "change_map", "redistrict_skipped",
	"projected_winner", "projected_margin", "efficiency_gap", "mean_median",
	"declination", "max_pop_deviation", "mean_pop_deviation", "pop_variance",
	"compactness", "competitiveness", "competitive_seats", "segregation",
	"happy", "unhappy", "happy_red", "happy_blue", "unhappy_red", "unhappy_blue",
	"avg_utility", "total_population", "blue_share",
}

// WriteCSV writes one row per snapshot. Seat columns are added per layer
// found in the first snapshot; undefined metrics are left empty.
func WriteCSV(w io.Writer, snaps []stats.Snapshot) error {
	var layers []string
	if len(snaps) > 0 {
		for _, ls := range snaps[0].Seats {
			layers = append(layers, ls.Layer)
		}
	}

	cw := csv.NewWriter(w)
	header := append([]string(nil), csvHeader...)
	for _, l := range layers {
		header = append(header, l+"_red", l+"_blue", l+"_tied")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range snaps {
		row := []string{
			strconv.Itoa(s.Round), s.Control, strconv.Itoa(s.Moves), ftoa(s.ChangeMap),
			strconv.FormatBool(s.RedistrictSkipped),
			s.ProjectedWinner, strconv.Itoa(s.ProjectedMargin), ftoa(s.EfficiencyGap),
			optional(s.MeanMedian), optional(s.Declination),
			ftoa(s.MaxPopDeviation), ftoa(s.MeanPopDeviation), ftoa(s.PopVariance),
			ftoa(s.Compactness), ftoa(s.Competitiveness), strconv.Itoa(s.CompetitiveSeats),
			ftoa(s.Segregation),
			strconv.Itoa(s.Happy), strconv.Itoa(s.Unhappy),
			strconv.Itoa(s.HappyRed), strconv.Itoa(s.HappyBlue),
			strconv.Itoa(s.UnhappyRed), strconv.Itoa(s.UnhappyBlue),
			ftoa(s.AvgUtility), strconv.Itoa(s.TotalPopulation), ftoa(s.BlueShare),
		}
		for _, l := range layers {
			var seats stats.SeatCount
			for _, ls := range s.Seats {
				if ls.Layer == l {
					seats = ls.SeatCount
				}
			}
			row = append(row, strconv.Itoa(seats.Red), strconv.Itoa(seats.Blue), strconv.Itoa(seats.Tied))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return ftoa(*v)
}
