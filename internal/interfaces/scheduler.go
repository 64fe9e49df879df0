package interfaces

import (
	"context"

	"github.com/pagewright/pagewright/internal/models"
)

// Scheduler is the durable priority queue plus worker liveness registry.
// It exclusively owns AutomationJob state transitions.
type Scheduler interface {
	// Enqueue validates a spec and persists a pending job
	Enqueue(ctx context.Context, spec *models.JobSpec) (string, error)

	// ClaimNext dispatches at most one pending job to the calling worker.
	// Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error)

	MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error

	// ReportFailure applies the retry policy: retryable categories with
	// remaining budget requeue with retryCount^2 seconds backoff, the rest
	// go terminal failed.
	ReportFailure(ctx context.Context, jobID string, cause error) error

	MarkCancelled(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error

	GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error)
	IsCancelled(ctx context.Context, jobID string) (bool, error)

	// Worker registry
	RegisterWorker(ctx context.Context, worker *models.BrowserWorker) error
	Heartbeat(ctx context.Context, workerID string) error
	SetWorkerBusy(ctx context.Context, workerID, jobID string) error
	SetWorkerIdle(ctx context.Context, workerID string) error
	ListActiveWorkers(ctx context.Context) ([]*models.BrowserWorker, error)
	DeregisterWorker(ctx context.Context, workerID string) error
}
