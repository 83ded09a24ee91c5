package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "runs and iterations",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    model_dir TEXT NOT NULL,
    command TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT '',
    threads INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'running',
    error TEXT,
    iterations INTEGER NOT NULL DEFAULT 0,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS iterations (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    log_likelihood REAL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    transitions INTEGER NOT NULL DEFAULT 0,
    recorded_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, iteration)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "snapshots",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    path TEXT NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    saved_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "marginal likelihood estimates",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS estimates (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    trial INTEGER NOT NULL,
    value REAL NOT NULL,
    recorded_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, trial)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
