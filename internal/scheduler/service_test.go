package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
	"github.com/pagewright/pagewright/internal/storage/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.Manager) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "scheduler_test.db"),
		CacheSizeMB:   16,
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	config := &common.QueueConfig{
		PollInterval:      "1s",
		Concurrency:       5,
		HeartbeatInterval: "10s",
		HeartbeatTimeout:  "30s",
		ReaperInterval:    "10s",
		DefaultMaxRetries: 3,
		DefaultTimeoutMS:  30000,
		MaxRetryDelaySec:  60,
	}
	return NewService(manager, nil, logger, config), manager
}

func testSpec(url string, priority int) *models.JobSpec {
	return &models.JobSpec{
		TargetURL: url,
		Actions:   []models.Action{{Name: "navigate"}},
		Priority:  priority,
	}
}

func registerTestWorker(t *testing.T, svc *Service, id string) {
	t.Helper()
	err := svc.RegisterWorker(context.Background(), &models.BrowserWorker{
		ID:            id,
		BrowserFamily: models.BrowserChromium,
		Metadata:      models.WorkerMetadata{PID: 1234, Host: "test-host"},
	})
	require.NoError(t, err)
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.BrowserChromium, job.BrowserFamily)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 30000, job.TimeoutMS)
	assert.Equal(t, models.WaitLoad, job.WaitUntil)
	assert.NotEmpty(t, job.CorrelationID)
}

func TestEnqueueRejectsInvalidSpec(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, &models.JobSpec{TargetURL: "not-a-url", Actions: []models.Action{{Name: "navigate"}}})
	require.Error(t, err)
	assert.Equal(t, errctx.CategoryInvalidInput, errctx.CategoryOf(err))

	_, err = svc.Enqueue(ctx, &models.JobSpec{TargetURL: "https://example.com"})
	require.Error(t, err, "empty action list must be rejected")
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	lowID, err := svc.Enqueue(ctx, testSpec("https://example.com/low", 1))
	require.NoError(t, err)
	highOldID, err := svc.Enqueue(ctx, testSpec("https://example.com/high-old", 5))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	highNewID, err := svc.Enqueue(ctx, testSpec("https://example.com/high-new", 5))
	require.NoError(t, err)

	first, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highOldID, first.ID, "highest priority, oldest created wins")

	second, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, highNewID, second.ID)

	third, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, lowID, third.ID)

	none, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	assert.Nil(t, none, "empty queue claims nothing")
}

func TestClaimNextConcurrentWorkersNeverShareAJob(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const jobCount = 20
	const workerCount = 8

	for i := 0; i < jobCount; i++ {
		_, err := svc.Enqueue(ctx, testSpec(fmt.Sprintf("https://example.com/job-%d", i), i%3))
		require.NoError(t, err)
	}
	for i := 0; i < workerCount; i++ {
		registerTestWorker(t, svc, fmt.Sprintf("worker-%d", i))
	}

	var mu sync.Mutex
	claimed := make(map[string]string)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				job, err := svc.ClaimNext(ctx, workerID, models.BrowserChromium)
				if err != nil {
					t.Error(err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[job.ID]; dup {
					t.Errorf("job %s claimed by both %s and %s", job.ID, prev, workerID)
				}
				claimed[job.ID] = workerID
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount, "every job claimed exactly once")
}

func TestClaimNextFiltersByBrowserFamily(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	spec := testSpec("https://example.com", 0)
	spec.BrowserFamily = "firefox"
	_, err := svc.Enqueue(ctx, spec)
	require.NoError(t, err)

	job, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	assert.Nil(t, job, "chromium worker must not claim a firefox job")

	job, err = svc.ClaimNext(ctx, "worker-1", models.BrowserFirefox)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.BrowserFirefox, job.BrowserFamily)
}

func TestClaimNextMarksWorkerBusy(t *testing.T) {
	svc, manager := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)

	job, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, "worker-1", job.CurrentWorker)
	require.NotNil(t, job.StartedAt)

	worker, err := manager.Workers().GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, models.WorkerStatusBusy, worker.Status)
	assert.Equal(t, jobID, worker.CurrentJobID)
}

func TestReportFailureRequeuesRecoverable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)

	cause := errctx.New(ctx, errctx.CategoryNetwork, "net_reset", "connection reset by peer")
	require.NoError(t, svc.ReportFailure(ctx, jobID, cause))

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.AvailableAt.After(time.Now().UTC()), "backoff gate must be in the future")

	// The backoff gate keeps the job invisible to an immediate claim
	claimed, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestReportFailureNonRecoverableIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)

	cause := errctx.New(ctx, errctx.CategoryInvalidInput, "bad_selector", "selector matched nothing")
	require.NoError(t, svc.ReportFailure(ctx, jobID, cause))

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, string(errctx.CategoryInvalidInput), job.ErrorCategory)
	assert.Equal(t, 0, job.RetryCount, "non-recoverable failure must not consume retry budget")
	require.NotNil(t, job.CompletedAt)
}

func TestReportFailureExhaustsRetryBudget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	spec := testSpec("https://example.com", 0)
	one := 1
	spec.MaxRetries = &one
	jobID, err := svc.Enqueue(ctx, spec)
	require.NoError(t, err)

	cause := errors.New("dial tcp: connection refused")

	_, err = svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	require.NoError(t, svc.ReportFailure(ctx, jobID, cause))

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)
	require.Equal(t, 1, job.RetryCount)

	// Budget exhausted: the next failure is terminal
	require.NoError(t, svc.ReportFailure(ctx, jobID, cause))
	job, err = svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestRetryDelayIsQuadraticAndCapped(t *testing.T) {
	svc, _ := newTestService(t)

	assert.Equal(t, 1*time.Second, svc.retryDelay(1))
	assert.Equal(t, 4*time.Second, svc.retryDelay(2))
	assert.Equal(t, 9*time.Second, svc.retryDelay(3))
	assert.Equal(t, 60*time.Second, svc.retryDelay(20), "delay is capped by max_retry_delay_sec")
}

func TestCancelPendingJob(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, jobID))

	cancelled, err := svc.IsCancelled(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Cancel on a terminal job is a no-op
	require.NoError(t, svc.Cancel(ctx, jobID))

	// A cancelled job is never claimable
	registerTestWorker(t, svc, "worker-1")
	job, err := svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerTestWorker(t, svc, "worker-1")

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", models.BrowserChromium)
	require.NoError(t, err)

	results := []models.ActionResult{{Action: "navigate", Index: 0, Success: true, DurationMS: 120}}
	require.NoError(t, svc.MarkCompleted(ctx, jobID, results, nil))
	require.NoError(t, svc.MarkCompleted(ctx, jobID, results, nil))

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.Len(t, job.Results, 1)
	assert.True(t, job.Results[0].Success)
	require.NotNil(t, job.CompletedAt)
}

func TestReaperRequeuesOrphanedJobs(t *testing.T) {
	svc, manager := newTestService(t)
	ctx := context.Background()
	logger := arbor.NewLogger()

	registerTestWorker(t, svc, "worker-dead")

	jobID, err := svc.Enqueue(ctx, testSpec("https://example.com", 0))
	require.NoError(t, err)
	claimed, err := svc.ClaimNext(ctx, "worker-dead", models.BrowserChromium)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	retriesBefore := claimed.RetryCount

	// Age the heartbeat past the 30s timeout
	stale := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, manager.Workers().Heartbeat(ctx, "worker-dead", stale))

	reaper := NewReaper(manager, nil, logger, &common.QueueConfig{
		HeartbeatTimeout: "30s",
		ReaperInterval:   "10s",
	})
	require.NoError(t, reaper.Sweep(ctx))

	worker, err := manager.Workers().GetWorker(ctx, "worker-dead")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusOffline, worker.Status)
	assert.Empty(t, worker.CurrentJobID)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, retriesBefore, job.RetryCount, "orphan requeue must not consume retry budget")
}

func TestReaperIgnoresHealthyWorkers(t *testing.T) {
	svc, manager := newTestService(t)
	ctx := context.Background()

	registerTestWorker(t, svc, "worker-alive")

	reaper := NewReaper(manager, nil, arbor.NewLogger(), &common.QueueConfig{
		HeartbeatTimeout: "30s",
		ReaperInterval:   "10s",
	})
	require.NoError(t, reaper.Sweep(ctx))

	worker, err := manager.Workers().GetWorker(ctx, "worker-alive")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusIdle, worker.Status)
}

func TestHeartbeatUnknownWorkerErrors(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Heartbeat(context.Background(), "no-such-worker")
	require.Error(t, err)
}
