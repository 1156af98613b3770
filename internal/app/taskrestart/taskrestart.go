package taskrestart

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage"
)

// Supervisor checks task workers.
type Supervisor interface {
	ProbeTask(ctx context.Context, task model.MigrationTask) (*model.ProbeResult, error)
}

// TaskRunner runs a subset of the wave tasks.
type TaskRunner interface {
	RunTasks(ctx context.Context, waveID string, sourceIDs []string) (*model.Wave, error)
}

// ServiceConfig is the configuration for the task restart service.
type ServiceConfig struct {
	Repository storage.Repository
	Supervisor Supervisor
	Runner     TaskRunner
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Supervisor == nil {
		return fmt.Errorf("supervisor is required")
	}

	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.taskrestart"})

	return nil
}

// Service restarts a single wave member.
type Service struct {
	repo       storage.Repository
	supervisor Supervisor
	runner     TaskRunner
	logger     log.Logger
}

// NewService creates a new task restart service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:       cfg.Repository,
		supervisor: cfg.Supervisor,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
	}, nil
}

// Request represents the restart request parameters.
type Request struct {
	WaveID   string
	SourceID string
}

// Response is the restarted task and its wave after the relaunch.
type Response struct {
	Wave model.Wave
	Task model.MigrationTask
}

// Run relaunches the task reusing its target. A task whose worker is still alive is not
// restarted.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	task, err := s.repo.GetTask(ctx, req.WaveID, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	if task.TargetID != "" {
		res, err := s.supervisor.ProbeTask(ctx, *task)
		if err != nil {
			return nil, fmt.Errorf("could not probe task worker: %w", err)
		}
		if res.Running {
			return nil, fmt.Errorf("task %s worker is still running (pid %d), kill it first: %w", task.SourceID, res.PID, model.ErrAlreadyExists)
		}
	}

	s.logger.Infof("Restarting task %s of wave %s (status: %s)", task.SourceID, req.WaveID, task.Status)

	wave, err := s.runner.RunTasks(ctx, req.WaveID, []string{req.SourceID})
	if err != nil {
		return nil, fmt.Errorf("could not run task: %w", err)
	}

	task, err = s.repo.GetTask(ctx, req.WaveID, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("could not get restarted task: %w", err)
	}

	return &Response{Wave: *wave, Task: *task}, nil
}
