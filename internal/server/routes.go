package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pagewright/pagewright/internal/common"
)

// setupRoutes builds the route table
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.healthHandler)

	// Collection: list + submit
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet:  s.jobHandler.ListJobsHandler,
			http.MethodPost: s.jobHandler.SubmitJobHandler,
		})
	})

	// Item routes: /api/jobs/{id}, /api/jobs/{id}/cancel, /api/jobs/{id}/logs
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			RouteByMethod(w, r, MethodRouter{http.MethodPost: s.jobHandler.CancelJobHandler})
		case strings.HasSuffix(r.URL.Path, "/logs"):
			RouteByMethod(w, r, MethodRouter{http.MethodGet: s.jobHandler.JobLogsHandler})
		default:
			RouteByMethod(w, r, MethodRouter{http.MethodGet: s.jobHandler.GetJobHandler})
		}
	})

	mux.HandleFunc("/api/workers", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.workerHandler.ListWorkersHandler})
	})

	mux.HandleFunc("/ws", s.wsHandler.ServeWS)

	return mux
}

// healthHandler reports process liveness and version
// GET /api/health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workers, err := s.app.Scheduler.ListActiveWorkers(r.Context())
	workerCount := 0
	if err == nil {
		workerCount = len(workers)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"version":    common.GetVersion(),
		"workers":    workerCount,
		"ws_clients": s.wsHandler.ClientCount(),
	})
}

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod routes requests based on HTTP method with standardized error handling
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}
