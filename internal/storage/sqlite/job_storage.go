package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// JobStorage implements the JobStore interface for SQLite
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, target_url, actions, browser_family, status, priority,
	retry_count, max_retries, timeout_ms, wait_until, storage, results,
	artifacts, error_message, error_category, correlation_id, current_worker,
	available_at, created_at, started_at, completed_at`

// SaveJob inserts or replaces the full job row
func (s *JobStorage) SaveJob(ctx context.Context, job *models.AutomationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	actions, err := json.Marshal(job.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	storage, err := marshalNullable(job.Storage)
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}
	results, err := marshalNullable(job.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	artifacts, err := marshalNullable(job.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	query := `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		priority = excluded.priority,
		retry_count = excluded.retry_count,
		storage = excluded.storage,
		results = excluded.results,
		artifacts = excluded.artifacts,
		error_message = excluded.error_message,
		error_category = excluded.error_category,
		current_worker = excluded.current_worker,
		available_at = excluded.available_at,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at`

	_, err = s.db.DB().ExecContext(ctx, query,
		job.ID, job.TargetURL, string(actions), string(job.BrowserFamily),
		string(job.Status), job.Priority, job.RetryCount, job.MaxRetries,
		job.TimeoutMS, string(job.WaitUntil), storage, results, artifacts,
		job.ErrorMessage, job.ErrorCategory, job.CorrelationID,
		job.CurrentWorker, job.AvailableAt.UnixMilli(),
		job.CreatedAt.UnixMilli(), unixMilliPtr(job.StartedAt),
		unixMilliPtr(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the options, newest first by default
func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AutomationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []interface{}{}

	if opts != nil && opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC`
	if opts != nil && opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AutomationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobs counts jobs in a status ("" counts all)
func (s *JobStorage) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count)
	} else {
		err = s.db.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// ClaimNext atomically dispatches the highest-priority, oldest pending job
// whose backoff gate has passed. The single UPDATE statement selects and
// flips the row under SQLite's write lock, so two concurrent claims can
// never return the same job. Returns nil when nothing is claimable.
func (s *JobStorage) ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error) {
	now := time.Now().UTC()
	query := `
	UPDATE jobs SET
		status = 'processing',
		current_worker = ?,
		started_at = ?
	WHERE id = (
		SELECT id FROM jobs
		WHERE status = 'pending'
		  AND available_at <= ?
		  AND browser_family = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	)
	RETURNING ` + jobColumns

	row := s.db.DB().QueryRowContext(ctx, query,
		workerID, now.UnixMilli(), now.UnixMilli(), string(family))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted finalizes a processing job. Replaying on a terminal job is
// a no-op: the status guard makes the statement idempotent.
func (s *JobStorage) MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error {
	resultsJSON, err := marshalNullable(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	artifactsJSON, err := marshalNullable(artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	_, err = s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET
			status = 'completed',
			results = ?,
			artifacts = ?,
			current_worker = '',
			completed_at = ?
		WHERE id = ? AND status = 'processing'`,
		resultsJSON, artifactsJSON, time.Now().UTC().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed finalizes a processing job as failed
func (s *JobStorage) MarkFailed(ctx context.Context, jobID, errMsg, errCategory string) error {
	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET
			status = 'failed',
			error_message = ?,
			error_category = ?,
			current_worker = '',
			completed_at = ?
		WHERE id = ? AND status IN ('processing', 'pending')`,
		errMsg, errCategory, time.Now().UTC().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkCancelled transitions a pending or processing job to cancelled
func (s *JobStorage) MarkCancelled(ctx context.Context, jobID string) error {
	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET
			status = 'cancelled',
			current_worker = '',
			completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	return nil
}

// RequeueForRetry returns a processing job to pending with an incremented
// retry count and a backoff gate
func (s *JobStorage) RequeueForRetry(ctx context.Context, jobID string, availableAt time.Time) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET
			status = 'pending',
			retry_count = retry_count + 1,
			current_worker = '',
			started_at = NULL,
			available_at = ?
		WHERE id = ? AND status = 'processing' AND retry_count < max_retries`,
		availableAt.UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("job %s not requeued: not processing or retries exhausted", jobID)
	}
	return nil
}

// RequeueOrphan returns a processing job to pending without consuming a
// retry (dead-worker reclamation)
func (s *JobStorage) RequeueOrphan(ctx context.Context, jobID string) error {
	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET
			status = 'pending',
			current_worker = '',
			started_at = NULL,
			available_at = ?
		WHERE id = ? AND status = 'processing'`,
		time.Now().UTC().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to requeue orphan job: %w", err)
	}
	return nil
}

// DeleteJob removes a job row
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.AutomationJob, error) {
	var (
		job                          models.AutomationJob
		actions                      string
		family, status, waitUntil    string
		storage, results, artifacts  sql.NullString
		errMsg, errCat, corrID       sql.NullString
		worker                       sql.NullString
		availableAt, createdAt       int64
		startedAt, completedAt       sql.NullInt64
	)

	err := row.Scan(&job.ID, &job.TargetURL, &actions, &family, &status,
		&job.Priority, &job.RetryCount, &job.MaxRetries, &job.TimeoutMS,
		&waitUntil, &storage, &results, &artifacts, &errMsg, &errCat,
		&corrID, &worker, &availableAt, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.BrowserFamily = models.BrowserFamily(family)
	job.Status = models.JobStatus(status)
	job.WaitUntil = models.WaitUntil(waitUntil)
	job.ErrorMessage = errMsg.String
	job.ErrorCategory = errCat.String
	job.CorrelationID = corrID.String
	job.CurrentWorker = worker.String
	job.AvailableAt = time.UnixMilli(availableAt).UTC()
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)

	if err := json.Unmarshal([]byte(actions), &job.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if storage.Valid && storage.String != "" {
		if err := json.Unmarshal([]byte(storage.String), &job.Storage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal storage: %w", err)
		}
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &job.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	if artifacts.Valid && artifacts.String != "" {
		if err := json.Unmarshal([]byte(artifacts.String), &job.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
		}
	}

	return &job, nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	str := string(data)
	if str == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: str, Valid: true}, nil
}

func unixMilliPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
