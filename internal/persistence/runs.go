package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/gerrysort/internal/stats"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunConverged = "converged"
	RunFailed    = "failed"
)

// Run is one simulation run.
type Run struct {
	ID         string `json:"id" db:"id"`
	JobID      string `json:"job_id,omitempty" db:"job_id"`
	Seed       int64  `json:"seed" db:"seed"`
	Status     string `json:"status" db:"status"`
	Rounds     int    `json:"rounds" db:"rounds"`
	ConfigJSON string `json:"config" db:"config_json"`
	Error      string `json:"error,omitempty" db:"error"`
	StartedAt  int64  `json:"started_at" db:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty" db:"finished_at"`
}

type snapshotRow struct {
	RunID string `db:"run_id"`
	stats.Snapshot
	SeatsJSON string `db:"seats_json"`
}

const snapshotColumns = `run_id, round, control, moves, change_map, redistrict_skipped,
	seats_json, projected_winner, projected_margin, efficiency_gap, mean_median,
	declination, max_pop_deviation, mean_pop_deviation, pop_variance,
	compactness, competitiveness, competitive_seats, segregation,
	happy, unhappy, happy_red, happy_blue, unhappy_red, unhappy_blue,
	avg_utility, total_population, blue_share`

// CreateRun records a new run and returns it. cfg is stored as JSON.
func (db *DB) CreateRun(jobID string, seed int64, cfg any) (Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode config: %w", err)
	}
	r := Run{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Seed:       seed,
		Status:     RunRunning,
		ConfigJSON: string(raw),
		StartedAt:  time.Now().Unix(),
	}
	_, err = db.conn.NamedExec(`INSERT INTO runs
		(id, job_id, seed, status, rounds, config_json, error, started_at, finished_at)
		VALUES (:id, :job_id, :seed, :status, :rounds, :config_json, :error, :started_at, :finished_at)`, r)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// SaveSnapshot stores one round of a run, replacing an earlier copy.
func (db *DB) SaveSnapshot(runID string, s stats.Snapshot) error {
	seats, err := json.Marshal(s.Seats)
	if err != nil {
		return fmt.Errorf("encode seats: %w", err)
	}
	row := snapshotRow{RunID: runID, Snapshot: s, SeatsJSON: string(seats)}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(tx.Rebind("DELETE FROM snapshots WHERE run_id = ? AND round = ?"), runID, s.Round); err != nil {
		return err
	}
	if _, err := tx.NamedExec(`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (
		:run_id, :round, :control, :moves, :change_map, :redistrict_skipped,
		:seats_json, :projected_winner, :projected_margin, :efficiency_gap, :mean_median,
		:declination, :max_pop_deviation, :mean_pop_deviation, :pop_variance,
		:compactness, :competitiveness, :competitive_seats, :segregation,
		:happy, :unhappy, :happy_red, :happy_blue, :unhappy_red, :unhappy_blue,
		:avg_utility, :total_population, :blue_share)`, row); err != nil {
		return fmt.Errorf("insert snapshot %d: %w", s.Round, err)
	}
	if _, err := tx.Exec(tx.Rebind("UPDATE runs SET rounds = ? WHERE id = ? AND rounds < ?"), s.Round, runID, s.Round); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePlan stores the precinct to district map of one round.
func (db *DB) SavePlan(runID string, round int, layer string, plan map[string]string) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(tx.Rebind("DELETE FROM plans WHERE run_id = ? AND round = ? AND layer = ?"), runID, round, layer); err != nil {
		return err
	}
	if _, err := tx.Exec(tx.Rebind("INSERT INTO plans (run_id, round, layer, plan_json) VALUES (?, ?, ?, ?)"),
		runID, round, layer, string(raw)); err != nil {
		return fmt.Errorf("insert plan %d: %w", round, err)
	}
	return tx.Commit()
}

// LoadPlan returns a stored plan.
func (db *DB) LoadPlan(runID string, round int, layer string) (map[string]string, error) {
	var raw string
	err := db.conn.Get(&raw, db.conn.Rebind("SELECT plan_json FROM plans WHERE run_id = ? AND round = ? AND layer = ?"), runID, round, layer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s/%d: %w", runID, round, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	plan := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// FinishRun sets the final status of a run. A nil runErr means converged.
func (db *DB) FinishRun(runID string, runErr error) error {
	status, msg := RunConverged, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := db.conn.Exec(db.conn.Rebind("UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?"),
		status, msg, time.Now().Unix(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	slog.Debug("run finished", "run", runID, "status", status)
	return nil
}

// GetRun returns one run.
func (db *DB) GetRun(runID string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, db.conn.Rebind("SELECT * FROM runs WHERE id = ?"), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	runs := []Run{}
	err := db.conn.Select(&runs, db.conn.Rebind("SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?"), limit)
	return runs, err
}

// LoadSnapshots returns the snapshots of a run in round order.
func (db *DB) LoadSnapshots(runID string) ([]stats.Snapshot, error) {
	var rows []snapshotRow
	err := db.conn.Select(&rows, db.conn.Rebind("SELECT "+snapshotColumns+" FROM snapshots WHERE run_id = ? ORDER BY round"), runID)
	if err != nil {
		return nil, err
	}
	out := make([]stats.Snapshot, len(rows))
	for i, row := range rows {
		s := row.Snapshot
		if err := json.Unmarshal([]byte(row.SeatsJSON), &s.Seats); err != nil {
			return nil, fmt.Errorf("decode seats of round %d: %w", s.Round, err)
		}
		out[i] = s
	}
	return out, nil
}
