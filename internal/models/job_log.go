package models

import (
	"time"
)

// LogLevel for job log entries
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// JobLog is an append-only, timestamp-ordered log entry scoped to a job.
// Entries are never mutated after insert.
type JobLog struct {
	ID            int64                  `json:"id"`
	JobID         string                 `json:"job_id"`
	Level         LogLevel               `json:"level"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}
