package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	scheduler interfaces.Scheduler
	jobs      interfaces.JobStore
	jobLogs   interfaces.JobLogStore
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(scheduler interfaces.Scheduler, jobs interfaces.JobStore, jobLogs interfaces.JobLogStore, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		scheduler: scheduler,
		jobs:      jobs,
		jobLogs:   jobLogs,
		logger:    logger,
	}
}

// SubmitJobHandler accepts a job specification and enqueues it
// POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var spec models.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	jobID, err := h.scheduler.Enqueue(ctx, &spec)
	if err != nil {
		if errctx.CategoryOf(err) == errctx.CategoryInvalidInput {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to enqueue job")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID})
}

// ListJobsHandler returns a paginated list of jobs
// GET /api/jobs?limit=50&offset=0&status=completed
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	status := models.JobStatus(r.URL.Query().Get("status"))

	opts := &interfaces.JobListOptions{
		Status:   status,
		Limit:    limit,
		Offset:   offset,
		OrderBy:  "created_at",
		OrderDir: "DESC",
	}

	list, err := h.jobs.ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	totalCount, err := h.jobs.CountJobs(ctx, status)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs")
		totalCount = len(list)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        list,
		"total_count": totalCount,
		"limit":       limit,
		"offset":      offset,
	})
}

// GetJobHandler returns a single job by ID
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := pathSegment(r, 2)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.scheduler.GetJob(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CancelJobHandler cancels a pending or processing job
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := pathSegment(r, 2)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	if err := h.scheduler.Cancel(ctx, jobID); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

// JobLogsHandler returns the log entries recorded for a job
// GET /api/jobs/{id}/logs?limit=200
func (h *JobHandler) JobLogsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := pathSegment(r, 2)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	logs, err := h.jobLogs.GetLogs(ctx, jobID, queryInt(r, "limit", 200))
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job logs")
		writeError(w, http.StatusInternalServerError, "failed to get job logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "logs": logs})
}

// pathSegment extracts the nth path segment, e.g. segment 2 of
// /api/jobs/{id}/cancel is the job ID.
func pathSegment(r *http.Request, n int) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) <= n {
		return ""
	}
	return parts[n]
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isNotFound(err error) bool {
	var ce *errctx.Error
	if errors.As(err, &ce) && ce.Code == "not_found" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
