// Package persistence stores runs, per-round snapshots and plans in SQLite
// or Postgres.
package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a database connection for simulation output.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to driver ("sqlite" or "postgres") at dsn and creates the
// schema. A sqlite dsn is a file path.
func Open(driver, dsn string) (*DB, error) {
	var source string
	switch driver {
	case "sqlite":
		source = dsn
		if !strings.Contains(dsn, "?") {
			source += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case "postgres":
		source = dsn
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}

	conn, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer at a time.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Debug("database opened", "driver", driver)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	floatType := "REAL"
	if db.driver == "postgres" {
		floatType = "DOUBLE PRECISION"
	}
	schema := strings.ReplaceAll(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL DEFAULT '',
		seed BIGINT NOT NULL,
		status TEXT NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		control TEXT NOT NULL,
		moves INTEGER NOT NULL,
		change_map $REAL NOT NULL,
		redistrict_skipped BOOLEAN NOT NULL,
		seats_json TEXT NOT NULL,
		projected_winner TEXT NOT NULL,
		projected_margin INTEGER NOT NULL,
		efficiency_gap $REAL NOT NULL,
		mean_median $REAL,
		declination $REAL,
		max_pop_deviation $REAL NOT NULL,
		mean_pop_deviation $REAL NOT NULL,
		pop_variance $REAL NOT NULL,
		compactness $REAL NOT NULL,
		competitiveness $REAL NOT NULL,
		competitive_seats INTEGER NOT NULL,
		segregation $REAL NOT NULL,
		happy INTEGER NOT NULL,
		unhappy INTEGER NOT NULL,
		happy_red INTEGER NOT NULL,
		happy_blue INTEGER NOT NULL,
		unhappy_red INTEGER NOT NULL,
		unhappy_blue INTEGER NOT NULL,
		avg_utility $REAL NOT NULL,
		total_population INTEGER NOT NULL,
		blue_share $REAL NOT NULL,
		PRIMARY KEY (run_id, round)
	);

	CREATE TABLE IF NOT EXISTS plans (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		layer TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		PRIMARY KEY (run_id, round, layer)
	);

	CREATE TABLE IF NOT EXISTS sweep_jobs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON sweep_jobs(status);
	`, "$REAL", floatType)

	// Postgres refuses multiple statements in a prepared exec.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
