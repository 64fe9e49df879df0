package interfaces

import (
	"context"
	"time"

	"github.com/pagewright/pagewright/internal/models"
)

// JobListOptions filters job queries
type JobListOptions struct {
	Status   models.JobStatus
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobStore persists automation jobs. The scheduler is the only writer of
// status transitions; ClaimNext is the single dispatch point.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.AutomationJob) error
	GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.AutomationJob, error)
	CountJobs(ctx context.Context, status models.JobStatus) (int, error)

	// ClaimNext atomically flips the highest-priority, oldest pending job
	// whose backoff gate has passed to processing for the given worker.
	// Returns nil when no claimable job exists.
	ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error)

	// MarkCompleted/MarkFailed/MarkCancelled are idempotent on terminal jobs.
	MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error
	MarkFailed(ctx context.Context, jobID, errMsg, errCategory string) error
	MarkCancelled(ctx context.Context, jobID string) error

	// RequeueForRetry flips a processing job back to pending with an
	// incremented retry count and a backoff gate.
	RequeueForRetry(ctx context.Context, jobID string, availableAt time.Time) error

	// RequeueOrphan returns a processing job to pending without touching
	// retry count (dead-worker reclamation).
	RequeueOrphan(ctx context.Context, jobID string) error

	DeleteJob(ctx context.Context, jobID string) error
}

// WorkerStore persists the browser worker registry
type WorkerStore interface {
	RegisterWorker(ctx context.Context, worker *models.BrowserWorker) error
	GetWorker(ctx context.Context, workerID string) (*models.BrowserWorker, error)
	ListWorkers(ctx context.Context, status models.WorkerStatus) ([]*models.BrowserWorker, error)
	Heartbeat(ctx context.Context, workerID string, at time.Time) error
	SetWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus, currentJobID string) error

	// StaleWorkers returns non-offline workers whose heartbeat is older
	// than the cutoff.
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]*models.BrowserWorker, error)
	DeregisterWorker(ctx context.Context, workerID string) error
}

// JobLogStore persists append-only job log entries
type JobLogStore interface {
	AppendLog(ctx context.Context, entry *models.JobLog) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]*models.JobLog, error)
	DeleteLogs(ctx context.Context, jobID string) error
}

// SolverConfigStore persists per-solver enablement and priority overrides
type SolverConfigStore interface {
	SaveSolverConfig(ctx context.Context, name string, enabled bool, priority int) error
	GetSolverConfig(ctx context.Context, name string) (enabled bool, priority int, found bool, err error)
	ListSolverConfigs(ctx context.Context) (map[string]bool, error)
}

// APIKeyStore persists external provider API keys
type APIKeyStore interface {
	SaveAPIKeys(ctx context.Context, provider string, keys []string) error
	GetAPIKeys(ctx context.Context, provider string) ([]string, error)
}

// TranscriptionCache stores audio transcriptions keyed by content hash
type TranscriptionCache interface {
	Get(ctx context.Context, key string) (*models.TranscriptionCacheEntry, error)
	Put(ctx context.Context, entry *models.TranscriptionCacheEntry) error
	Sweep(ctx context.Context) (int, error) // Remove expired entries
}

// StorageManager aggregates the storage layers
type StorageManager interface {
	Jobs() JobStore
	Workers() WorkerStore
	JobLogs() JobLogStore
	SolverConfigs() SolverConfigStore
	APIKeys() APIKeyStore
	Close() error
}
