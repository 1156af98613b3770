package taskreset

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// Resetter hard resets tasks.
type Resetter interface {
	HardReset(ctx context.Context, sourceID, targetID string) (*model.ResetSummary, error)
}

// ServiceConfig is the configuration for the task reset service.
type ServiceConfig struct {
	Supervisor Resetter
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Supervisor == nil {
		return fmt.Errorf("supervisor is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.taskreset"})

	return nil
}

// Service hard resets tasks.
type Service struct {
	supervisor Resetter
	logger     log.Logger
}

// NewService creates a new task reset service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		supervisor: cfg.Supervisor,
		logger:     cfg.Logger,
	}, nil
}

// Request represents the reset request parameters.
type Request struct {
	SourceID string
	TargetID string
}

// Run kills the worker, removes the task artifacts and sets the task back to pending. Step
// failures are reported on the summary.
func (s *Service) Run(ctx context.Context, req Request) (*model.ResetSummary, error) {
	if req.SourceID == "" || req.TargetID == "" {
		return nil, fmt.Errorf("source and target ids are required: %w", model.ErrNotValid)
	}

	summary, err := s.supervisor.HardReset(ctx, req.SourceID, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("could not reset task: %w", err)
	}

	if len(summary.Errors) > 0 {
		s.logger.Warningf("Task %s->%s reset with %d errors", req.SourceID, req.TargetID, len(summary.Errors))
	}

	return summary, nil
}
