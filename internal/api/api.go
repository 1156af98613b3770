package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/slok/wavemig/internal/app/taskkill"
	"github.com/slok/wavemig/internal/app/tasklaunch"
	"github.com/slok/wavemig/internal/app/taskprobe"
	"github.com/slok/wavemig/internal/app/taskreset"
	"github.com/slok/wavemig/internal/app/taskrestart"
	"github.com/slok/wavemig/internal/app/taskresult"
	"github.com/slok/wavemig/internal/app/wavecreate"
	"github.com/slok/wavemig/internal/app/wavelist"
	"github.com/slok/wavemig/internal/app/wavestatus"
	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
)

// Use cases served by the API.
type (
	WaveCreator interface {
		Run(ctx context.Context, req wavecreate.Request) (*model.Wave, error)
	}
	WaveLister interface {
		Run(ctx context.Context, req wavelist.Request) ([]model.Wave, error)
	}
	WaveStatuser interface {
		Run(ctx context.Context, req wavestatus.Request) (*wavestatus.Response, error)
	}
	TaskRestarter interface {
		Run(ctx context.Context, req taskrestart.Request) (*taskrestart.Response, error)
	}
	TaskLauncher interface {
		Run(ctx context.Context, req tasklaunch.Request) (*model.MigrationTask, error)
	}
	TaskProber interface {
		Run(ctx context.Context, req taskprobe.Request) (*model.ProbeResult, error)
	}
	TaskKiller interface {
		Run(ctx context.Context, req taskkill.Request) (*model.KillResult, error)
	}
	TaskResetter interface {
		Run(ctx context.Context, req taskreset.Request) (*model.ResetSummary, error)
	}
	TaskResultHandler interface {
		Run(ctx context.Context, req taskresult.Request) (*model.TaskResult, error)
	}
)

// ServerConfig is the configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	WaveCreate  WaveCreator
	WaveList    WaveLister
	WaveStatus  WaveStatuser
	TaskRestart TaskRestarter
	TaskLaunch  TaskLauncher
	TaskProbe   TaskProber
	TaskKill    TaskKiller
	TaskReset   TaskResetter
	TaskResult  TaskResultHandler
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
	Metrics        metrics.Recorder
	Logger         log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	switch {
	case c.WaveCreate == nil, c.WaveList == nil, c.WaveStatus == nil, c.TaskRestart == nil, c.TaskLaunch == nil:
		return fmt.Errorf("wave and task launch use cases are required")
	case c.TaskProbe == nil, c.TaskKill == nil, c.TaskReset == nil, c.TaskResult == nil:
		return fmt.Errorf("task supervision use cases are required")
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})

	return nil
}

// Server is the HTTP API of the engine, including the worker result webhook.
type Server struct {
	cfg     ServerConfig
	server  *http.Server
	handler http.Handler
	metrics metrics.Recorder
	logger  log.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST /api/v1/waves", s.handleCreateWave)
	s.handle(mux, "GET /api/v1/waves", s.handleListWaves)
	s.handle(mux, "GET /api/v1/waves/{id}", s.handleWaveStatus)
	s.handle(mux, "POST /api/v1/waves/{id}/tasks/{source}/restart", s.handleRestartTask)
	s.handle(mux, "POST /api/v1/tasks", s.handleLaunchTask)
	s.handle(mux, "GET /api/v1/tasks/{source}/{target}/probe", s.handleProbeTask)
	s.handle(mux, "POST /api/v1/tasks/{source}/{target}/kill", s.handleKillTask)
	s.handle(mux, "POST /api/v1/tasks/{source}/{target}/reset", s.handleResetTask)
	s.handle(mux, "POST /api/v1/webhook/result", s.handleWebhookResult)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.handler = mux
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the API HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the server and blocks until ctx is cancelled. It performs a
// graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("api server error: %w", err)
	case <-ctx.Done():
		s.logger.Infof("Shutting down API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown error: %w", err)
		}
		return nil
	}
}

// handle registers the handler measuring and logging every request.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(h, w, r)
		s.metrics.ObserveHTTPRequest(r.Context(), pattern, r.Method, m.Code, m.Duration)
		s.logger.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}

// errorStatus maps the domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotValid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
