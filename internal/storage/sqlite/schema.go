package sqlite

import (
	"fmt"
)

// schema holds the current DDL. Statements are idempotent; migrate runs
// them on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id              TEXT PRIMARY KEY,
		target_url      TEXT NOT NULL,
		actions         TEXT NOT NULL,            -- JSON array of actions
		browser_family  TEXT NOT NULL DEFAULT 'chromium',
		status          TEXT NOT NULL DEFAULT 'pending',
		priority        INTEGER NOT NULL DEFAULT 0,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		max_retries     INTEGER NOT NULL DEFAULT 3,
		timeout_ms      INTEGER NOT NULL DEFAULT 30000,
		wait_until      TEXT NOT NULL DEFAULT 'load',
		storage         TEXT,                     -- JSON browser storage payload
		results         TEXT,                     -- JSON array of action results
		artifacts       TEXT,                     -- JSON array of artifacts
		error_message   TEXT,
		error_category  TEXT,
		correlation_id  TEXT,
		current_worker  TEXT,
		available_at    INTEGER NOT NULL,         -- Unix ms, retry backoff gate
		created_at      INTEGER NOT NULL,         -- Unix ms
		started_at      INTEGER,
		completed_at    INTEGER
	)`,

	// Claim ordering: priority DESC, created_at ASC over pending rows
	`CREATE INDEX IF NOT EXISTS idx_jobs_claim
		ON jobs (status, priority DESC, created_at ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_worker ON jobs (current_worker)`,

	`CREATE TABLE IF NOT EXISTS workers (
		id                TEXT PRIMARY KEY,
		browser_family    TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'idle',
		current_job_id    TEXT,
		last_heartbeat_at INTEGER NOT NULL,
		pid               INTEGER NOT NULL DEFAULT 0,
		host              TEXT NOT NULL DEFAULT '',
		registered_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workers_liveness
		ON workers (status, last_heartbeat_at)`,

	`CREATE TABLE IF NOT EXISTS job_logs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id         TEXT NOT NULL,
		level          TEXT NOT NULL,
		message        TEXT NOT NULL,
		metadata       TEXT,
		correlation_id TEXT,
		timestamp      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs (job_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS solver_configs (
		name       TEXT PRIMARY KEY,
		enabled    INTEGER NOT NULL DEFAULT 1,
		priority   INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		provider   TEXT PRIMARY KEY,
		keys       TEXT NOT NULL,                 -- Comma-separated, rotated round-robin
		updated_at INTEGER NOT NULL
	)`,
}

// migrate applies the schema
func (s *SQLiteDB) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
