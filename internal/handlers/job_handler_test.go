package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// mockScheduler implements interfaces.Scheduler for testing
type mockScheduler struct {
	enqueueFunc     func(ctx context.Context, spec *models.JobSpec) (string, error)
	getJobFunc      func(ctx context.Context, jobID string) (*models.AutomationJob, error)
	cancelFunc      func(ctx context.Context, jobID string) error
	listWorkersFunc func(ctx context.Context) ([]*models.BrowserWorker, error)
}

func (m *mockScheduler) Enqueue(ctx context.Context, spec *models.JobSpec) (string, error) {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, spec)
	}
	return "job_test", nil
}

func (m *mockScheduler) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	if m.getJobFunc != nil {
		return m.getJobFunc(ctx, jobID)
	}
	return nil, fmt.Errorf("job not found: %s", jobID)
}

func (m *mockScheduler) Cancel(ctx context.Context, jobID string) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, jobID)
	}
	return nil
}

func (m *mockScheduler) ListActiveWorkers(ctx context.Context) ([]*models.BrowserWorker, error) {
	if m.listWorkersFunc != nil {
		return m.listWorkersFunc(ctx)
	}
	return nil, nil
}

func (m *mockScheduler) ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error) {
	return nil, nil
}

func (m *mockScheduler) MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error {
	return nil
}

func (m *mockScheduler) ReportFailure(ctx context.Context, jobID string, cause error) error {
	return nil
}

func (m *mockScheduler) MarkCancelled(ctx context.Context, jobID string) error { return nil }

func (m *mockScheduler) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}

func (m *mockScheduler) RegisterWorker(ctx context.Context, worker *models.BrowserWorker) error {
	return nil
}

func (m *mockScheduler) Heartbeat(ctx context.Context, workerID string) error { return nil }

func (m *mockScheduler) SetWorkerBusy(ctx context.Context, workerID, jobID string) error { return nil }

func (m *mockScheduler) SetWorkerIdle(ctx context.Context, workerID string) error { return nil }

func (m *mockScheduler) DeregisterWorker(ctx context.Context, workerID string) error { return nil }

// mockJobStore implements interfaces.JobStore for testing
type mockJobStore struct {
	listFunc  func(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AutomationJob, error)
	countFunc func(ctx context.Context, status models.JobStatus) (int, error)
}

func (m *mockJobStore) SaveJob(ctx context.Context, job *models.AutomationJob) error { return nil }

func (m *mockJobStore) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	return nil, fmt.Errorf("job not found: %s", jobID)
}

func (m *mockJobStore) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AutomationJob, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, opts)
	}
	return nil, nil
}

func (m *mockJobStore) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, status)
	}
	return 0, nil
}

func (m *mockJobStore) ClaimNext(ctx context.Context, workerID string, family models.BrowserFamily) (*models.AutomationJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkCompleted(ctx context.Context, jobID string, results []models.ActionResult, artifacts []models.Artifact) error {
	return nil
}

func (m *mockJobStore) MarkFailed(ctx context.Context, jobID, errMsg, errCategory string) error {
	return nil
}

func (m *mockJobStore) MarkCancelled(ctx context.Context, jobID string) error { return nil }

func (m *mockJobStore) RequeueForRetry(ctx context.Context, jobID string, availableAt time.Time) error {
	return nil
}

func (m *mockJobStore) RequeueOrphan(ctx context.Context, jobID string) error { return nil }

func (m *mockJobStore) DeleteJob(ctx context.Context, jobID string) error { return nil }

// mockJobLogStore implements interfaces.JobLogStore for testing
type mockJobLogStore struct {
	getLogsFunc func(ctx context.Context, jobID string, limit int) ([]*models.JobLog, error)
}

func (m *mockJobLogStore) AppendLog(ctx context.Context, entry *models.JobLog) error { return nil }

func (m *mockJobLogStore) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.JobLog, error) {
	if m.getLogsFunc != nil {
		return m.getLogsFunc(ctx, jobID, limit)
	}
	return nil, nil
}

func (m *mockJobLogStore) DeleteLogs(ctx context.Context, jobID string) error { return nil }

func newTestJobHandler(scheduler *mockScheduler, jobs *mockJobStore, jobLogs *mockJobLogStore) *JobHandler {
	if scheduler == nil {
		scheduler = &mockScheduler{}
	}
	if jobs == nil {
		jobs = &mockJobStore{}
	}
	if jobLogs == nil {
		jobLogs = &mockJobLogStore{}
	}
	return NewJobHandler(scheduler, jobs, jobLogs, arbor.NewLogger())
}

func TestSubmitJobHandler_Success(t *testing.T) {
	var captured *models.JobSpec
	scheduler := &mockScheduler{
		enqueueFunc: func(ctx context.Context, spec *models.JobSpec) (string, error) {
			captured = spec
			return "job_abc123", nil
		},
	}
	handler := newTestJobHandler(scheduler, nil, nil)

	body := `{"target_url":"https://example.com","actions":[{"action":"navigate"}],"priority":5}`
	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["job_id"] != "job_abc123" {
		t.Errorf("Expected job_id 'job_abc123', got %q", response["job_id"])
	}

	if captured == nil {
		t.Fatal("Expected spec to reach the scheduler")
	}
	if captured.TargetURL != "https://example.com" {
		t.Errorf("Expected target_url to pass through, got %q", captured.TargetURL)
	}
	if captured.Priority != 5 {
		t.Errorf("Expected priority 5, got %d", captured.Priority)
	}
}

func TestSubmitJobHandler_InvalidBody(t *testing.T) {
	handler := newTestJobHandler(nil, nil, nil)

	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestSubmitJobHandler_ValidationErrorIs400(t *testing.T) {
	scheduler := &mockScheduler{
		enqueueFunc: func(ctx context.Context, spec *models.JobSpec) (string, error) {
			return "", errctx.New(ctx, errctx.CategoryInvalidInput, "bad_spec", "target_url is required")
		},
	}
	handler := newTestJobHandler(scheduler, nil, nil)

	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(`{"actions":[]}`))
	rec := httptest.NewRecorder()

	handler.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid input, got %d", rec.Code)
	}
}

func TestSubmitJobHandler_InternalErrorIs500(t *testing.T) {
	scheduler := &mockScheduler{
		enqueueFunc: func(ctx context.Context, spec *models.JobSpec) (string, error) {
			return "", fmt.Errorf("disk full")
		},
	}
	handler := newTestJobHandler(scheduler, nil, nil)

	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(`{"target_url":"https://example.com"}`))
	rec := httptest.NewRecorder()

	handler.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestGetJobHandler_Success(t *testing.T) {
	scheduler := &mockScheduler{
		getJobFunc: func(ctx context.Context, jobID string) (*models.AutomationJob, error) {
			return &models.AutomationJob{ID: jobID, Status: models.JobStatusCompleted}, nil
		},
	}
	handler := newTestJobHandler(scheduler, nil, nil)

	req := httptest.NewRequest("GET", "/api/jobs/job_abc123", nil)
	rec := httptest.NewRecorder()

	handler.GetJobHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var job models.AutomationJob
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID != "job_abc123" {
		t.Errorf("Expected job ID 'job_abc123', got %q", job.ID)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Expected status completed, got %q", job.Status)
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	handler := newTestJobHandler(&mockScheduler{}, nil, nil)

	req := httptest.NewRequest("GET", "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()

	handler.GetJobHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestCancelJobHandler_Success(t *testing.T) {
	var cancelled string
	scheduler := &mockScheduler{
		cancelFunc: func(ctx context.Context, jobID string) error {
			cancelled = jobID
			return nil
		},
	}
	handler := newTestJobHandler(scheduler, nil, nil)

	req := httptest.NewRequest("POST", "/api/jobs/job_abc123/cancel", nil)
	rec := httptest.NewRecorder()

	handler.CancelJobHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if cancelled != "job_abc123" {
		t.Errorf("Expected cancel for 'job_abc123', got %q", cancelled)
	}
}

func TestListJobsHandler_PassesFilters(t *testing.T) {
	var captured *interfaces.JobListOptions
	jobs := &mockJobStore{
		listFunc: func(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AutomationJob, error) {
			captured = opts
			return []*models.AutomationJob{{ID: "job_1"}, {ID: "job_2"}}, nil
		},
		countFunc: func(ctx context.Context, status models.JobStatus) (int, error) {
			return 42, nil
		},
	}
	handler := newTestJobHandler(nil, jobs, nil)

	req := httptest.NewRequest("GET", "/api/jobs?limit=10&offset=20&status=completed", nil)
	rec := httptest.NewRecorder()

	handler.ListJobsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if captured == nil {
		t.Fatal("Expected list options to reach the store")
	}
	if captured.Limit != 10 || captured.Offset != 20 {
		t.Errorf("Expected limit=10 offset=20, got limit=%d offset=%d", captured.Limit, captured.Offset)
	}
	if captured.Status != models.JobStatusCompleted {
		t.Errorf("Expected status filter 'completed', got %q", captured.Status)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if int(response["total_count"].(float64)) != 42 {
		t.Errorf("Expected total_count 42, got %v", response["total_count"])
	}
}

func TestJobLogsHandler_Success(t *testing.T) {
	jobLogs := &mockJobLogStore{
		getLogsFunc: func(ctx context.Context, jobID string, limit int) ([]*models.JobLog, error) {
			return []*models.JobLog{
				{JobID: jobID, Level: models.LogLevelInfo, Message: "navigated"},
				{JobID: jobID, Level: models.LogLevelError, Message: "click failed"},
			}, nil
		},
	}
	handler := newTestJobHandler(nil, nil, jobLogs)

	req := httptest.NewRequest("GET", "/api/jobs/job_abc123/logs", nil)
	rec := httptest.NewRecorder()

	handler.JobLogsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	logs := response["logs"].([]interface{})
	if len(logs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(logs))
	}
}

func TestPathSegment(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/jobs/job_xyz/cancel", nil)
	if got := pathSegment(req, 2); got != "job_xyz" {
		t.Errorf("Expected 'job_xyz', got %q", got)
	}
	if got := pathSegment(req, 5); got != "" {
		t.Errorf("Expected empty for out-of-range segment, got %q", got)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/jobs?limit=abc&offset=-3", nil)
	if got := queryInt(req, "limit", 50); got != 50 {
		t.Errorf("Expected fallback 50 for non-numeric, got %d", got)
	}
	if got := queryInt(req, "offset", 0); got != 0 {
		t.Errorf("Expected fallback 0 for negative, got %d", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("Expected fallback 7 for absent key, got %d", got)
	}
}
