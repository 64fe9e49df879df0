package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/pagewright/pagewright/internal/browser"
	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// Processor is the worker loop: it claims jobs from the scheduler, runs
// their actions against one shared page inside an isolated browser context,
// and reports the outcome. At most Concurrency jobs run at once.
type Processor struct {
	scheduler    interfaces.Scheduler
	browsers     *browser.Manager
	registry     *Registry
	events       interfaces.EventService
	jobLogs      interfaces.JobLogStore
	detector     interfaces.ChallengeDetector
	orchestrator interfaces.SolveOrchestrator
	logger       arbor.ILogger
	config       *common.Config

	workerID string
	family   models.BrowserFamily
	sem      *semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor creates a worker processor for one browser family
func NewProcessor(
	scheduler interfaces.Scheduler,
	browsers *browser.Manager,
	registry *Registry,
	events interfaces.EventService,
	jobLogs interfaces.JobLogStore,
	detector interfaces.ChallengeDetector,
	orchestrator interfaces.SolveOrchestrator,
	logger arbor.ILogger,
	config *common.Config,
) *Processor {
	concurrency := config.Queue.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	family, err := models.ParseBrowserFamily(config.Browser.DefaultFamily)
	if err != nil {
		family = models.BrowserChromium
	}
	return &Processor{
		scheduler:    scheduler,
		browsers:     browsers,
		registry:     registry,
		events:       events,
		jobLogs:      jobLogs,
		detector:     detector,
		orchestrator: orchestrator,
		logger:       logger,
		config:       config,
		workerID:     common.NewWorkerID(),
		family:       family,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		stopCh:       make(chan struct{}),
	}
}

// WorkerID returns this processor's registry identity
func (p *Processor) WorkerID() string {
	return p.workerID
}

// Start registers the worker and launches the heartbeat and claim loops
func (p *Processor) Start(ctx context.Context) error {
	host, _ := os.Hostname()
	err := p.scheduler.RegisterWorker(ctx, &models.BrowserWorker{
		ID:            p.workerID,
		BrowserFamily: p.family,
		Status:        models.WorkerStatusIdle,
		Metadata:      models.WorkerMetadata{PID: os.Getpid(), Host: host},
	})
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}

	p.wg.Add(2)
	go p.heartbeatLoop(ctx)
	go p.claimLoop(ctx)

	p.logger.Info().
		Str("worker_id", p.workerID).
		Str("family", string(p.family)).
		Int("concurrency", p.config.Queue.Concurrency).
		Msg("Job processor started")
	return nil
}

// Stop halts the loops, waits for in-flight jobs and deregisters the worker
func (p *Processor) Stop(ctx context.Context) {
	close(p.stopCh)
	p.wg.Wait()
	if err := p.scheduler.DeregisterWorker(ctx, p.workerID); err != nil {
		p.logger.Warn().Err(err).Str("worker_id", p.workerID).Msg("Failed to deregister worker")
	}
}

func (p *Processor) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := common.ParseDurationField(p.config.Queue.HeartbeatInterval, 10*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.scheduler.Heartbeat(ctx, p.workerID); err != nil {
				p.logger.Warn().Err(err).Str("worker_id", p.workerID).Msg("Heartbeat failed")
			}
		}
	}
}

func (p *Processor) claimLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := common.ParseDurationField(p.config.Queue.PollInterval, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.sem.TryAcquire(1) {
				continue
			}
			job, err := p.scheduler.ClaimNext(ctx, p.workerID, p.family)
			if err != nil {
				p.sem.Release(1)
				p.logger.Warn().Err(err).Msg("Claim failed")
				continue
			}
			if job == nil {
				p.sem.Release(1)
				continue
			}
			p.wg.Add(1)
			go func(job *models.AutomationJob) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.runJob(ctx, job)
			}(job)
		}
	}
}

// runJob executes one claimed job and reports the outcome to the scheduler
func (p *Processor) runJob(ctx context.Context, job *models.AutomationJob) {
	jobLogger := p.logger.WithCorrelationId(job.CorrelationID)

	var results []models.ActionResult
	var artifacts []models.Artifact

	err := errctx.RunInScope(ctx, job.CorrelationID, "", func(scopedCtx context.Context) error {
		var execErr error
		results, artifacts, execErr = p.executeJob(scopedCtx, job, jobLogger)
		return execErr
	})

	switch {
	case err == nil:
		if reportErr := p.scheduler.MarkCompleted(ctx, job.ID, results, artifacts); reportErr != nil {
			jobLogger.Error().Err(reportErr).Str("job_id", job.ID).Msg("Failed to report completion")
		}
	case errctx.CategoryOf(err) == errCategoryCancelled:
		if reportErr := p.scheduler.MarkCancelled(ctx, job.ID); reportErr != nil {
			jobLogger.Warn().Err(reportErr).Str("job_id", job.ID).Msg("Failed to finalize cancellation")
		}
	default:
		if reportErr := p.scheduler.ReportFailure(ctx, job.ID, err); reportErr != nil {
			jobLogger.Error().Err(reportErr).Str("job_id", job.ID).Msg("Failed to report failure")
		}
	}

	if idleErr := p.scheduler.SetWorkerIdle(ctx, p.workerID); idleErr != nil {
		jobLogger.Warn().Err(idleErr).Msg("Failed to return worker to idle")
	}
}

// Cancellation is not a failure category; it is detected between actions and
// short-circuits the run.
var errCancelled = &cancelledError{}

const errCategoryCancelled = errctx.Category("cancelled")

type cancelledError struct{}

func (e *cancelledError) Error() string { return "job cancelled" }

// executeJob owns the browser resources for one run. Teardown is guaranteed:
// storage clear, session close and instance release happen on every path.
func (p *Processor) executeJob(ctx context.Context, job *models.AutomationJob, jobLogger arbor.ILogger) (results []models.ActionResult, artifacts []models.Artifact, err error) {
	inst, err := p.browsers.Acquire(ctx, job.BrowserFamily)
	if err != nil {
		return nil, nil, errctx.Wrap(ctx, errctx.CategoryInternal, "no browser instance available", err)
	}

	profile := browser.NewStealthProfile(&p.config.Stealth)
	session, err := browser.NewSession(inst, browser.SessionOptions{
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		UserAgent:      p.config.Browser.UserAgent,
		Locale:         p.config.Stealth.Locale,
		TimezoneID:     profile.TimezoneID,
		StealthScript:  browser.BuildStealthScript(&p.config.Stealth, profile),
		BlockAssets:    common.BoolOrDefault(p.config.Stealth.BlockAssets, false),
	}, jobLogger)
	if err != nil {
		p.browsers.Destroy(inst)
		return nil, nil, errctx.Wrap(ctx, errctx.CategoryInternal, "failed to create browser session", err)
	}

	healthy := true
	defer func() {
		if clearErr := session.ClearStorage(); clearErr != nil {
			jobLogger.Warn().Err(clearErr).Msg("Failed to clear session storage on teardown")
		}
		session.Close()
		if healthy {
			p.browsers.Release(inst)
		} else {
			p.browsers.Destroy(inst)
		}
	}()

	if job.Storage != nil && len(job.Storage.Cookies) > 0 {
		if err := session.SeedCookies(job.Storage.Cookies); err != nil {
			return nil, nil, errctx.Wrap(ctx, errctx.CategoryInternal, "failed to seed cookies", err)
		}
	}

	ec := &ExecContext{
		Ctx:          ctx,
		Session:      session,
		Job:          job,
		Logger:       jobLogger,
		Detector:     p.detector,
		Orchestrator: p.orchestrator,
		Config:       p.config,
	}

	storageSeeded := job.Storage.IsEmpty()

	for i, action := range job.Actions {
		cancelled, cancelErr := p.scheduler.IsCancelled(ctx, job.ID)
		if cancelErr != nil {
			jobLogger.Warn().Err(cancelErr).Msg("Cancellation check failed")
		} else if cancelled {
			jobLogger.Info().Str("job_id", job.ID).Int("at_action", i).Msg("Job cancelled mid-run")
			return results, ec.Artifacts, errctx.Wrap(ctx, errCategoryCancelled, "cancelled before action", errCancelled)
		}

		result := p.runAction(ec, action, i)
		results = append(results, result)
		p.appendJobLog(ctx, job, i, result)
		p.publishProgress(ctx, job, i, result)

		if !result.Success {
			return results, ec.Artifacts, fmt.Errorf("action %d (%s) failed: %s", i, action.Name, result.Error)
		}

		// DOM storage needs a page on the target origin, so it is seeded
		// right after the first successful navigation
		if !storageSeeded && ec.FirstNavigationDone {
			if seedErr := session.SeedDOMStorage(job.Storage); seedErr != nil {
				return results, ec.Artifacts, errctx.Wrap(ctx, errctx.CategoryInternal, "failed to seed DOM storage", seedErr)
			}
			storageSeeded = true
		}

		if ec.Session.Ctx.Err() != nil {
			healthy = false
			return results, ec.Artifacts, errctx.Wrap(ctx, errctx.CategoryInternal, "browser session died", ec.Session.Ctx.Err())
		}
	}

	return results, ec.Artifacts, nil
}

// collectResults is a seam for post-processing; today it returns as-is
func (ec *ExecContext) collectResults(results []models.ActionResult) []models.ActionResult {
	return results
}

func (p *Processor) runAction(ec *ExecContext, action models.Action, index int) models.ActionResult {
	result := models.ActionResult{
		Action: action.Name,
		Index:  index,
	}

	executor, err := p.registry.Get(action.Name)
	if err != nil {
		wrapped := errctx.Wrap(ec.Ctx, errctx.CategoryInvalidInput, "unsupported action", err)
		result.Error = wrapped.Error()
		return result
	}

	start := time.Now()
	data, err := executor(ec, action, index)
	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		ec.Logger.Warn().
			Str("action", action.Name).
			Int("index", index).
			Int64("duration_ms", result.DurationMS).
			Err(err).
			Msg("Action failed")
		return result
	}

	result.Success = true
	result.Data = data
	ec.Logger.Debug().
		Str("action", action.Name).
		Int("index", index).
		Int64("duration_ms", result.DurationMS).
		Msg("Action completed")
	return result
}

func (p *Processor) appendJobLog(ctx context.Context, job *models.AutomationJob, index int, result models.ActionResult) {
	if p.jobLogs == nil {
		return
	}
	level := models.LogLevelInfo
	message := fmt.Sprintf("action %d (%s) completed in %dms", index, result.Action, result.DurationMS)
	if !result.Success {
		level = models.LogLevelError
		message = fmt.Sprintf("action %d (%s) failed: %s", index, result.Action, result.Error)
	}
	entry := &models.JobLog{
		JobID:         job.ID,
		Level:         level,
		Message:       message,
		CorrelationID: job.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
	if err := p.jobLogs.AppendLog(ctx, entry); err != nil {
		p.logger.Trace().Err(err).Str("job_id", job.ID).Msg("Failed to append job log")
	}
}

func (p *Processor) publishProgress(ctx context.Context, job *models.AutomationJob, index int, result models.ActionResult) {
	if p.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobProgress,
		Payload: models.JobEvent{
			Type:          models.EventJobProgress,
			JobID:         job.ID,
			Status:        models.JobStatusProcessing,
			CorrelationID: job.CorrelationID,
			Timestamp:     time.Now().UTC(),
			Data: map[string]interface{}{
				"action":      result.Action,
				"index":       index,
				"total":       len(job.Actions),
				"success":     result.Success,
				"duration_ms": result.DurationMS,
			},
		},
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Trace().Err(err).Str("job_id", job.ID).Msg("Failed to publish progress event")
	}
}
