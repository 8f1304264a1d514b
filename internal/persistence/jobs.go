package persistence

import (
	"time"
)

// Sweep job statuses.
const (
	JobDone   = "done"
	JobFailed = "failed"
)

// JobRecord is the ledger entry of one sweep job.
type JobRecord struct {
	ID        string `json:"id" db:"id"`
	RunID     string `json:"run_id" db:"run_id"`
	Status    string `json:"status" db:"status"`
	Attempts  int    `json:"attempts" db:"attempts"`
	Error     string `json:"error,omitempty" db:"error"`
	UpdatedAt int64  `json:"updated_at" db:"updated_at"`
}

// MarkJob upserts the ledger entry of a job.
func (db *DB) MarkJob(rec JobRecord) error {
	rec.UpdatedAt = time.Now().Unix()
	_, err := db.conn.NamedExec(`INSERT INTO sweep_jobs (id, run_id, status, attempts, error, updated_at)
		VALUES (:id, :run_id, :status, :attempts, :error, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			attempts = excluded.attempts,
			error = excluded.error,
			updated_at = excluded.updated_at`, rec)
	return err
}

// CompletedJobs returns the ids of jobs that finished successfully.
func (db *DB) CompletedJobs() (map[string]bool, error) {
	var ids []string
	if err := db.conn.Select(&ids, db.conn.Rebind("SELECT id FROM sweep_jobs WHERE status = ?"), JobDone); err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	return done, nil
}

// Jobs returns every ledger entry ordered by id.
func (db *DB) Jobs() ([]JobRecord, error) {
	recs := []JobRecord{}
	err := db.conn.Select(&recs, "SELECT * FROM sweep_jobs ORDER BY id")
	return recs, err
}
