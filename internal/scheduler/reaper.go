package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// Reaper periodically declares workers with expired heartbeats dead and
// returns their in-flight jobs to the queue. Orphan requeue does not consume
// retry budget; the worker died, the job did not fail.
type Reaper struct {
	storage          interfaces.StorageManager
	events           interfaces.EventService
	logger           arbor.ILogger
	heartbeatTimeout time.Duration
	interval         time.Duration
	cron             *cron.Cron
}

// NewReaper creates a new dead-worker reaper
func NewReaper(storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger, config *common.QueueConfig) *Reaper {
	return &Reaper{
		storage:          storage,
		events:           events,
		logger:           logger,
		heartbeatTimeout: common.ParseDurationField(config.HeartbeatTimeout, 30*time.Second),
		interval:         common.ParseDurationField(config.ReaperInterval, 10*time.Second),
		cron:             cron.New(),
	}
}

// Start schedules the periodic sweep
func (r *Reaper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", r.interval)
	_, err := r.cron.AddFunc(spec, func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Reaper sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}
	r.cron.Start()
	r.logger.Info().
		Str("interval", r.interval.String()).
		Str("heartbeat_timeout", r.heartbeatTimeout.String()).
		Msg("Worker reaper started")
	return nil
}

// Stop halts the sweep schedule and waits for a running sweep to finish
func (r *Reaper) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// Sweep finds workers whose heartbeat is older than the timeout, forces them
// offline, and requeues any job they were holding.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.heartbeatTimeout)
	stale, err := r.storage.Workers().StaleWorkers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale workers: %w", err)
	}

	for _, worker := range stale {
		r.logger.Warn().
			Str("worker_id", worker.ID).
			Str("last_heartbeat", worker.LastHeartbeatAt.Format(time.RFC3339)).
			Str("job_id", worker.CurrentJobID).
			Msg("Worker heartbeat expired, marking offline")

		if err := r.storage.Workers().SetWorkerStatus(ctx, worker.ID, models.WorkerStatusOffline, ""); err != nil {
			r.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("Failed to mark worker offline")
			continue
		}

		if worker.CurrentJobID != "" {
			if err := r.requeueOrphan(ctx, worker.CurrentJobID); err != nil {
				r.logger.Error().Err(err).
					Str("worker_id", worker.ID).
					Str("job_id", worker.CurrentJobID).
					Msg("Failed to requeue orphaned job")
			}
		}

		if r.events != nil {
			event := interfaces.Event{Type: interfaces.EventWorkerDead, Payload: worker}
			if err := r.events.Publish(ctx, event); err != nil {
				r.logger.Warn().Err(err).Str("worker_id", worker.ID).Msg("Failed to publish worker.dead event")
			}
		}
	}
	return nil
}

func (r *Reaper) requeueOrphan(ctx context.Context, jobID string) error {
	job, err := r.storage.Jobs().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	// Only a still-processing job is an orphan; anything else already moved on
	if job == nil || job.Status != models.JobStatusProcessing {
		return nil
	}
	if err := r.storage.Jobs().RequeueOrphan(ctx, jobID); err != nil {
		return err
	}
	r.logger.Info().Str("job_id", jobID).Msg("Orphaned job returned to queue")
	return nil
}
