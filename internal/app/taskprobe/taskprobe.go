package taskprobe

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// Prober tells if a task worker is running.
type Prober interface {
	Probe(ctx context.Context, sourceID, targetID string) (*model.ProbeResult, error)
}

// ServiceConfig is the configuration for the task probe service.
type ServiceConfig struct {
	Supervisor Prober
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Supervisor == nil {
		return fmt.Errorf("supervisor is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service probes task workers.
type Service struct {
	supervisor Prober
	logger     log.Logger
}

// NewService creates a new task probe service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		supervisor: cfg.Supervisor,
		logger:     cfg.Logger,
	}, nil
}

// Request represents the probe request parameters.
type Request struct {
	SourceID string
	TargetID string
}

// Run probes the source to target migration worker.
func (s *Service) Run(ctx context.Context, req Request) (*model.ProbeResult, error) {
	if req.SourceID == "" || req.TargetID == "" {
		return nil, fmt.Errorf("source and target ids are required: %w", model.ErrNotValid)
	}

	res, err := s.supervisor.Probe(ctx, req.SourceID, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("could not probe worker: %w", err)
	}

	s.logger.Debugf("probed %s->%s: running=%t (%s)", req.SourceID, req.TargetID, res.Running, res.Reason)

	return res, nil
}
