package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pagewright/pagewright/internal/app"
	"github.com/pagewright/pagewright/internal/handlers"
)

// Server manages the HTTP server and routes
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server

	jobHandler    *handlers.JobHandler
	workerHandler *handlers.WorkerHandler
	wsHandler     *handlers.WebSocketHandler
}

// New creates the HTTP server over an assembled application
func New(application *app.App) (*Server, error) {
	wsHandler, err := handlers.NewWebSocketHandler(application.EventService, application.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize websocket handler: %w", err)
	}

	s := &Server{
		app: application,
		jobHandler: handlers.NewJobHandler(
			application.Scheduler,
			application.StorageManager.Jobs(),
			application.StorageManager.JobLogs(),
			application.Logger,
		),
		workerHandler: handlers.NewWorkerHandler(application.Scheduler, application.Logger),
		wsHandler:     wsHandler,
	}
	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	s.wsHandler.Close()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
