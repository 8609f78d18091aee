// Package server exposes a read-only HTTP monitor for processing tasks.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultLogLines = 200
	maxLogLines     = 5000
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
	ListTasks(ctx context.Context, filter service.TaskFilter) ([]model.ProcessingTask, error)
}

// Server serves task status and logs.
type Server struct {
	router    *chi.Mux
	tasks     TaskReader
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Server.
func New(tasks TaskReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		router:    chi.NewRouter(),
		tasks:     tasks,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Routes returns the configured handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))

	r.Get("/health", s.handleHealth)
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleTaskList)
		r.Get("/{id}", s.handleTaskGet)
		r.Get("/{id}/log", s.handleTaskLog)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("task monitor listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
