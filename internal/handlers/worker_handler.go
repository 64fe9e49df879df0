package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
)

// WorkerHandler exposes the browser worker registry
type WorkerHandler struct {
	scheduler interfaces.Scheduler
	logger    arbor.ILogger
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(scheduler interfaces.Scheduler, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{scheduler: scheduler, logger: logger}
}

// ListWorkersHandler returns the active (idle or busy) workers
// GET /api/workers
func (h *WorkerHandler) ListWorkersHandler(w http.ResponseWriter, r *http.Request) {
	workers, err := h.scheduler.ListActiveWorkers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list workers")
		writeError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}
