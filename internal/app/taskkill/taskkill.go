package taskkill

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// Killer terminates task workers.
type Killer interface {
	Kill(ctx context.Context, sourceID, targetID string, force bool) (*model.KillResult, error)
}

// ServiceConfig is the configuration for the task kill service.
type ServiceConfig struct {
	Supervisor Killer
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Supervisor == nil {
		return fmt.Errorf("supervisor is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.taskkill"})

	return nil
}

// Service kills task workers.
type Service struct {
	supervisor Killer
	logger     log.Logger
}

// NewService creates a new task kill service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		supervisor: cfg.Supervisor,
		logger:     cfg.Logger,
	}, nil
}

// Request represents the kill request parameters.
type Request struct {
	SourceID string
	TargetID string
	// Force skips the graceful termination.
	Force bool
}

// Run terminates the source to target migration worker, if any.
func (s *Service) Run(ctx context.Context, req Request) (*model.KillResult, error) {
	if req.SourceID == "" || req.TargetID == "" {
		return nil, fmt.Errorf("source and target ids are required: %w", model.ErrNotValid)
	}

	res, err := s.supervisor.Kill(ctx, req.SourceID, req.TargetID, req.Force)
	if err != nil {
		return nil, fmt.Errorf("could not kill worker: %w", err)
	}

	if res.Killed {
		s.logger.Infof("Worker %d of %s->%s killed", res.PID, req.SourceID, req.TargetID)
	}

	return res, nil
}
