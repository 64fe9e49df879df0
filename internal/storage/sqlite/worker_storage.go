package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// WorkerStorage implements the WorkerStore interface for SQLite
type WorkerStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewWorkerStorage creates a new WorkerStorage instance
func NewWorkerStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.WorkerStore {
	return &WorkerStorage{
		db:     db,
		logger: logger,
	}
}

// RegisterWorker inserts or refreshes a worker row
func (s *WorkerStorage) RegisterWorker(ctx context.Context, worker *models.BrowserWorker) error {
	if worker.ID == "" {
		return fmt.Errorf("worker ID is required")
	}
	query := `
	INSERT INTO workers (id, browser_family, status, current_job_id, last_heartbeat_at, pid, host, registered_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		browser_family = excluded.browser_family,
		status = excluded.status,
		current_job_id = excluded.current_job_id,
		last_heartbeat_at = excluded.last_heartbeat_at,
		pid = excluded.pid,
		host = excluded.host`

	_, err := s.db.DB().ExecContext(ctx, query,
		worker.ID, string(worker.BrowserFamily), string(worker.Status),
		worker.CurrentJobID, worker.LastHeartbeatAt.UnixMilli(),
		worker.Metadata.PID, worker.Metadata.Host,
		worker.RegisteredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	s.logger.Debug().Str("worker_id", worker.ID).Msg("Worker registered")
	return nil
}

// GetWorker retrieves a worker by ID
func (s *WorkerStorage) GetWorker(ctx context.Context, workerID string) (*models.BrowserWorker, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT id, browser_family, status, current_job_id, last_heartbeat_at, pid, host, registered_at
		FROM workers WHERE id = ?`, workerID)
	worker, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("worker not found: %s", workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return worker, nil
}

// ListWorkers returns workers, optionally filtered by status
func (s *WorkerStorage) ListWorkers(ctx context.Context, status models.WorkerStatus) ([]*models.BrowserWorker, error) {
	query := `SELECT id, browser_family, status, current_job_id, last_heartbeat_at, pid, host, registered_at FROM workers`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY registered_at ASC`

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.BrowserWorker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

// Heartbeat updates the liveness timestamp
func (s *WorkerStorage) Heartbeat(ctx context.Context, workerID string, at time.Time) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE workers SET last_heartbeat_at = ? WHERE id = ?`,
		at.UnixMilli(), workerID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("worker not found: %s", workerID)
	}
	return nil
}

// SetWorkerStatus flips the worker status and current job together.
// Idle and offline workers always have current_job_id cleared.
func (s *WorkerStorage) SetWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus, currentJobID string) error {
	if status != models.WorkerStatusBusy {
		currentJobID = ""
	}
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE workers SET status = ?, current_job_id = ? WHERE id = ?`,
		string(status), currentJobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to set worker status: %w", err)
	}
	return nil
}

// StaleWorkers returns non-offline workers with heartbeats before cutoff
func (s *WorkerStorage) StaleWorkers(ctx context.Context, cutoff time.Time) ([]*models.BrowserWorker, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, browser_family, status, current_job_id, last_heartbeat_at, pid, host, registered_at
		FROM workers
		WHERE status != 'offline' AND last_heartbeat_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.BrowserWorker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

// DeregisterWorker removes a worker row
func (s *WorkerStorage) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}
	return nil
}

func scanWorker(row scanner) (*models.BrowserWorker, error) {
	var (
		worker         models.BrowserWorker
		family, status string
		currentJob     sql.NullString
		heartbeat      int64
		registered     int64
	)
	err := row.Scan(&worker.ID, &family, &status, &currentJob, &heartbeat,
		&worker.Metadata.PID, &worker.Metadata.Host, &registered)
	if err != nil {
		return nil, err
	}
	worker.BrowserFamily = models.BrowserFamily(family)
	worker.Status = models.WorkerStatus(status)
	worker.CurrentJobID = currentJob.String
	worker.LastHeartbeatAt = time.UnixMilli(heartbeat).UTC()
	worker.RegisteredAt = time.UnixMilli(registered).UTC()
	return &worker, nil
}
