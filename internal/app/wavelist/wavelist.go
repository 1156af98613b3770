package wavelist

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage"
)

// ServiceConfig is the configuration for the wave list service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists waves.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new wave list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// Status filters the waves by status, all when empty.
	Status model.WaveStatus
}

// Run returns the waves, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Wave, error) {
	waves, err := s.repo.ListWaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list waves: %w", err)
	}

	if req.Status == "" {
		return waves, nil
	}

	filtered := make([]model.Wave, 0, len(waves))
	for _, w := range waves {
		if w.Status == req.Status {
			filtered = append(filtered, w)
		}
	}

	s.logger.Debugf("listed %d waves (%d matched status %s)", len(waves), len(filtered), req.Status)

	return filtered, nil
}
