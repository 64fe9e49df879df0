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

// JobLogStorage implements the JobLogStore interface for SQLite
type JobLogStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobLogStore {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendLog inserts one append-only log entry
func (s *JobLogStorage) AppendLog(ctx context.Context, entry *models.JobLog) error {
	if entry.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, metadata, correlation_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.JobID, string(entry.Level), entry.Message, metadata,
		entry.CorrelationID, entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// GetLogs returns the oldest-first log entries for a job
func (s *JobLogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.JobLog, error) {
	query := `
		SELECT id, job_id, level, message, metadata, correlation_id, timestamp
		FROM job_logs WHERE job_id = ? ORDER BY timestamp ASC, id ASC`
	args := []interface{}{jobID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.JobLog
	for rows.Next() {
		var (
			entry     models.JobLog
			level     string
			metadata  sql.NullString
			corrID    sql.NullString
			timestamp int64
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &level, &entry.Message,
			&metadata, &corrID, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		entry.Level = models.LogLevel(level)
		entry.CorrelationID = corrID.String
		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// DeleteLogs removes all entries for a job
func (s *JobLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job logs: %w", err)
	}
	return nil
}
