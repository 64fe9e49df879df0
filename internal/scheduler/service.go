package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// Service is the durable job scheduler and worker registry. All job status
// transitions flow through here; ClaimNext is the single dispatch point so a
// pending job is handed to at most one worker.
type Service struct {
	storage  interfaces.StorageManager
	events   interfaces.EventService
	logger   arbor.ILogger
	config   *common.QueueConfig
	validate *validator.Validate
}

// NewService creates a new scheduler service
func NewService(storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger, config *common.QueueConfig) *Service {
	return &Service{
		storage:  storage,
		events:   events,
		logger:   logger,
		config:   config,
		validate: validator.New(),
	}
}

// Enqueue validates a submission and persists a pending job. Returns the
// generated job ID.
func (s *Service) Enqueue(ctx context.Context, spec *models.JobSpec) (string, error) {
	if spec == nil {
		return "", errctx.New(ctx, errctx.CategoryInvalidInput, "empty_spec", "job spec is required")
	}
	if err := s.validate.Struct(spec); err != nil {
		return "", errctx.Wrap(ctx, errctx.CategoryInvalidInput, "job spec validation failed", err)
	}

	job, err := models.NewJob(spec, s.config.DefaultMaxRetries, s.config.DefaultTimeoutMS)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategoryInvalidInput, "invalid job spec", err)
	}

	if err := s.storage.Jobs().SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("url", job.TargetURL).
		Str("browser", string(job.BrowserFamily)).
		Int("priority", job.Priority).
		Int("actions", len(job.Actions)).
		Msg("Job enqueued")

	return job.ID, nil
}

// ClaimNext dispatches at most one claimable job to the calling worker and
// marks the worker busy. Returns nil when the queue has nothing for this
// browser family.
func (s *Service) ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error) {
	job, err := s.storage.Jobs().ClaimNext(ctx, workerID, family)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	if err := s.storage.Workers().SetWorkerStatus(ctx, workerID, models.WorkerStatusBusy, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Failed to mark worker busy after claim")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("worker_id", workerID).
		Int("retry_count", job.RetryCount).
		Msg("Job claimed")

	s.publish(ctx, interfaces.EventJobStarted, models.JobEvent{
		Type:          models.EventJobStarted,
		JobID:         job.ID,
		Status:        models.JobStatusProcessing,
		CorrelationID: job.CorrelationID,
		Timestamp:     time.Now().UTC(),
	})

	return job, nil
}

// MarkCompleted records a successful run. Idempotent on terminal jobs.
func (s *Service) MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error {
	if err := s.storage.Jobs().MarkCompleted(ctx, jobID, results, artifacts); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Int("results", len(results)).Msg("Job completed")

	s.publish(ctx, interfaces.EventJobCompleted, models.JobEvent{
		Type:      models.EventJobCompleted,
		JobID:     jobID,
		Status:    models.JobStatusCompleted,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// ReportFailure applies the retry policy to a processing job. Recoverable
// failures with remaining retry budget go back to pending with a quadratic
// backoff gate; everything else is terminal failed.
func (s *Service) ReportFailure(ctx context.Context, jobID string, cause error) error {
	job, err := s.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for failure report: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	category := errctx.CategoryOf(cause)
	if category.Recoverable() && job.RetryCount < job.MaxRetries {
		availableAt := time.Now().UTC().Add(s.retryDelay(job.RetryCount + 1))
		if err := s.storage.Jobs().RequeueForRetry(ctx, jobID, availableAt); err != nil {
			return fmt.Errorf("failed to requeue job for retry: %w", err)
		}
		s.logger.Warn().
			Str("job_id", jobID).
			Str("category", string(category)).
			Int("retry_count", job.RetryCount+1).
			Str("available_at", availableAt.Format(time.RFC3339)).
			Err(cause).
			Msg("Job requeued for retry")
		return nil
	}

	if err := s.storage.Jobs().MarkFailed(ctx, jobID, cause.Error(), string(category)); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Error().
		Str("job_id", jobID).
		Str("category", string(category)).
		Err(cause).
		Msg("Job failed")

	s.publish(ctx, interfaces.EventJobFailed, models.JobEvent{
		Type:      models.EventJobFailed,
		JobID:     jobID,
		Status:    models.JobStatusFailed,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"error":    cause.Error(),
			"category": string(category),
		},
	})
	return nil
}

// retryDelay is retryCount^2 seconds, capped by config
func (s *Service) retryDelay(retryCount int) time.Duration {
	delay := time.Duration(retryCount*retryCount) * time.Second
	cap := time.Duration(s.config.MaxRetryDelaySec) * time.Second
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}

// MarkCancelled finalizes a cancellation observed by a processor. Idempotent
// when the job is already terminal.
func (s *Service) MarkCancelled(ctx context.Context, jobID string) error {
	if err := s.storage.Jobs().MarkCancelled(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	return nil
}

// Cancel requests cancellation of a job. Pending jobs flip to cancelled
// immediately; processing jobs flip too, and the executing processor observes
// the status between actions and aborts cooperatively.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for cancel: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if err := s.storage.Jobs().MarkCancelled(ctx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Str("was", string(job.Status)).Msg("Job cancelled")

	s.publish(ctx, interfaces.EventJobCancelled, models.JobEvent{
		Type:      models.EventJobCancelled,
		JobID:     jobID,
		Status:    models.JobStatusCancelled,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// GetJob returns a job by ID, nil when absent
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	return s.storage.Jobs().GetJob(ctx, jobID)
}

// IsCancelled reports whether a job has been cancelled. Processors poll this
// between actions.
func (s *Service) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := s.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job not found: %s", jobID)
	}
	return job.Status == models.JobStatusCancelled, nil
}

// RegisterWorker registers or re-registers a worker process
func (s *Service) RegisterWorker(ctx context.Context, worker *models.BrowserWorker) error {
	if worker.ID == "" {
		return fmt.Errorf("worker ID is required")
	}
	now := time.Now().UTC()
	if worker.RegisteredAt.IsZero() {
		worker.RegisteredAt = now
	}
	worker.LastHeartbeatAt = now
	if worker.Status == "" {
		worker.Status = models.WorkerStatusIdle
	}

	if err := s.storage.Workers().RegisterWorker(ctx, worker); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}

	s.logger.Info().
		Str("worker_id", worker.ID).
		Str("browser", string(worker.BrowserFamily)).
		Str("host", worker.Metadata.Host).
		Int("pid", worker.Metadata.PID).
		Msg("Worker registered")

	s.publish(ctx, interfaces.EventWorkerOnline, worker)
	return nil
}

// Heartbeat refreshes a worker's liveness timestamp
func (s *Service) Heartbeat(ctx context.Context, workerID string) error {
	if err := s.storage.Workers().Heartbeat(ctx, workerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// SetWorkerBusy marks a worker as executing the given job
func (s *Service) SetWorkerBusy(ctx context.Context, workerID, jobID string) error {
	return s.storage.Workers().SetWorkerStatus(ctx, workerID, models.WorkerStatusBusy, jobID)
}

// SetWorkerIdle returns a worker to the idle state
func (s *Service) SetWorkerIdle(ctx context.Context, workerID string) error {
	return s.storage.Workers().SetWorkerStatus(ctx, workerID, models.WorkerStatusIdle, "")
}

// ListActiveWorkers returns all workers not marked offline
func (s *Service) ListActiveWorkers(ctx context.Context) ([]*models.BrowserWorker, error) {
	idle, err := s.storage.Workers().ListWorkers(ctx, models.WorkerStatusIdle)
	if err != nil {
		return nil, err
	}
	busy, err := s.storage.Workers().ListWorkers(ctx, models.WorkerStatusBusy)
	if err != nil {
		return nil, err
	}
	return append(idle, busy...), nil
}

// DeregisterWorker removes a worker from the registry on clean shutdown
func (s *Service) DeregisterWorker(ctx context.Context, workerID string) error {
	if err := s.storage.Workers().DeregisterWorker(ctx, workerID); err != nil {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}
	s.logger.Info().Str("worker_id", workerID).Msg("Worker deregistered")
	return nil
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
