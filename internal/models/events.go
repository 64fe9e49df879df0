package models

import (
	"time"
)

// JobEventType names the per-job events published on the event stream
type JobEventType string

const (
	EventJobStarted   JobEventType = "job.started"
	EventJobProgress  JobEventType = "job.progress"
	EventJobCompleted JobEventType = "job.completed"
	EventJobFailed    JobEventType = "job.failed"
	EventJobCancelled JobEventType = "job.cancelled"
)

// JobEvent is the wire shape published to WebSocket subscribers.
// Event emission for a single job is monotone: started, progress 1..N,
// then exactly one terminal event.
type JobEvent struct {
	Type          JobEventType           `json:"type"`
	JobID         string                 `json:"job_id"`
	Status        JobStatus              `json:"status"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}
