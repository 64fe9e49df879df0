package models

import (
	"time"
)

// WorkerStatus represents the liveness state of a registered worker process
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
)

// BrowserWorker is a worker process registered in the scheduler.
//
// Invariants: idle workers have CurrentJobID empty; busy workers have it
// set; a worker with a heartbeat older than the heartbeat timeout is forced
// offline by the reaper and its current job is requeued.
type BrowserWorker struct {
	ID              string         `json:"id"`
	BrowserFamily   BrowserFamily  `json:"browser_family"`
	Status          WorkerStatus   `json:"status"`
	CurrentJobID    string         `json:"current_job_id,omitempty"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	Metadata        WorkerMetadata `json:"metadata"`
	RegisteredAt    time.Time      `json:"registered_at"`
}

// WorkerMetadata identifies the owning process
type WorkerMetadata struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
}

// IsStale reports whether the worker heartbeat is older than the timeout
func (w *BrowserWorker) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeatAt) > timeout
}
