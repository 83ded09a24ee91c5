package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, model_dir, command, mode, threads, status, error, iterations, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.ModelDir, &r.Command, &r.Mode, &r.Threads,
		&r.Status, &r.Error, &r.Iterations, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// StartRun records a new running run and returns its id.
func (db *DB) StartRun(modelDir, command, mode string, threads int, iterations int64) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, model_dir, command, mode, threads, iterations) VALUES (?, ?, ?, ?, ?, ?)`,
		id, modelDir, command, mode, threads, iterations,
	)
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run completed, or failed when runErr is non-nil, and
// stores the model's iteration counter at the end of the run.
func (db *DB) FinishRun(id string, iterations int64, runErr error) error {
	status := StatusCompleted
	var msg *string
	if runErr != nil {
		status = StatusFailed
		s := runErr.Error()
		msg = &s
	}
	res, err := db.conn.Exec(
		`UPDATE runs SET status = ?, error = ?, iterations = ?, finished_at = datetime('now') WHERE id = ?`,
		status, msg, iterations, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun returns a run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first, at most limit of them.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordIteration stores one sweep of a run. Recording the same iteration
// twice replaces the earlier row.
func (db *DB) RecordIteration(it Iteration) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO iterations (run_id, iteration, log_likelihood, duration_ms, transitions)
		VALUES (?, ?, ?, ?, ?)`,
		it.RunID, it.Iteration, it.LogLikelihood, it.DurationMS, it.Transitions,
	)
	if err != nil {
		return fmt.Errorf("recording iteration %d: %w", it.Iteration, err)
	}
	return nil
}

// IterationTrace returns the iterations of a run in order.
func (db *DB) IterationTrace(runID string) ([]Iteration, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, iteration, log_likelihood, duration_ms, transitions, recorded_at
		FROM iterations WHERE run_id = ? ORDER BY iteration`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trace []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.RunID, &it.Iteration, &it.LogLikelihood,
			&it.DurationMS, &it.Transitions, &it.RecordedAt); err != nil {
			return nil, err
		}
		trace = append(trace, it)
	}
	return trace, rows.Err()
}

// RecordSnapshot notes a snapshot file saved by a run.
func (db *DB) RecordSnapshot(runID string, iteration int64, path string, compressed bool) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO snapshots (run_id, iteration, path, compressed) VALUES (?, ?, ?, ?)`,
		runID, iteration, path, compressed,
	)
	if err != nil {
		return 0, fmt.Errorf("recording snapshot: %w", err)
	}
	return res.LastInsertId()
}

// GetSnapshots returns the snapshots of a run in save order.
func (db *DB) GetSnapshots(runID string) ([]Snapshot, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, iteration, path, compressed, saved_at
		FROM snapshots WHERE run_id = ? ORDER BY iteration, id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.RunID, &s.Iteration, &s.Path, &s.Compressed, &s.SavedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// RecordEstimate stores one marginal-likelihood trial.
func (db *DB) RecordEstimate(runID string, trial int, value float64) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO estimates (run_id, trial, value) VALUES (?, ?, ?)`,
		runID, trial, value,
	)
	if err != nil {
		return fmt.Errorf("recording trial %d: %w", trial, err)
	}
	return nil
}

// GetEstimates returns the trials of a run in order.
func (db *DB) GetEstimates(runID string) ([]Estimate, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, trial, value, recorded_at FROM estimates WHERE run_id = ? ORDER BY trial`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var e Estimate
		if err := rows.Scan(&e.RunID, &e.Trial, &e.Value, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStats returns aggregate ledger statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'completed'", &s.CompletedRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM iterations", &s.Iterations},
		{"SELECT COUNT(*) FROM snapshots", &s.Snapshots},
		{"SELECT COUNT(*) FROM estimates", &s.Estimates},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
