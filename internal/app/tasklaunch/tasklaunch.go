package tasklaunch

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/provision"
	"github.com/slok/wavemig/internal/storage"
	"github.com/slok/wavemig/internal/wave"
)

// ServiceConfig is the configuration for the task launch service.
type ServiceConfig struct {
	Repository    storage.Repository
	Settings      wave.SettingsLoader
	Provisioner   provision.Provisioner
	NewDispatcher wave.DispatcherFactory
	Logger        log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Settings == nil {
		return fmt.Errorf("settings loader is required")
	}

	if c.Provisioner == nil {
		c.Provisioner = provision.Disabled
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.tasklaunch"})

	if c.NewDispatcher == nil {
		c.NewDispatcher = wave.NewHTTPDispatcherFactory(nil, c.Logger)
	}

	return nil
}

// Service launches tasks that don't belong to any wave.
type Service struct {
	repo          storage.Repository
	settings      wave.SettingsLoader
	provisioner   provision.Provisioner
	newDispatcher wave.DispatcherFactory
	logger        log.Logger
}

// NewService creates a new task launch service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:          cfg.Repository,
		settings:      cfg.Settings,
		provisioner:   cfg.Provisioner,
		newDispatcher: cfg.NewDispatcher,
		logger:        cfg.Logger,
	}, nil
}

// Request represents the launch request parameters.
type Request struct {
	SourceID string
	// TargetID is provisioned in WorkspaceID when missing.
	TargetID    string
	WorkspaceID string
	// Params are extra query parameters for the worker.
	Params map[string]string
}

// Run creates (or reuses) the ad-hoc task and dispatches it.
func (s *Service) Run(ctx context.Context, req Request) (*model.MigrationTask, error) {
	if req.SourceID == "" {
		return nil, fmt.Errorf("source id is required: %w", model.ErrNotValid)
	}

	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load settings: %w", err)
	}
	if err := settings.ValidateCredentials(); err != nil {
		return nil, err
	}

	dispatcher, err := s.newDispatcher(settings)
	if err != nil {
		return nil, fmt.Errorf("could not create dispatcher: %w: %w", err, model.ErrConfiguration)
	}

	targetID := req.TargetID
	existing, err := s.repo.GetTask(ctx, "", req.SourceID)
	switch {
	case err == nil:
		if targetID == "" {
			targetID = existing.TargetID
		}
	case errors.Is(err, model.ErrNotFound):
	default:
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	if targetID == "" {
		targetID, err = s.provisioner.ResolveOrCreateProject(ctx, req.SourceID, req.WorkspaceID)
		if err != nil {
			return nil, fmt.Errorf("provisioning failed: %w", err)
		}
	}

	if existing == nil {
		err := s.repo.CreateTask(ctx, model.MigrationTask{SourceID: req.SourceID, TargetID: targetID, Status: model.TaskStatusPending})
		if err != nil && !errors.Is(err, model.ErrAlreadyExists) {
			return nil, fmt.Errorf("could not create task: %w", err)
		}
	}

	results := dispatcher.DispatchBatch(ctx, []model.DispatchRequest{{SourceID: req.SourceID, TargetID: targetID, Params: req.Params}}, 1)
	for res := range results {
		err := s.repo.SetTaskStatus(ctx, model.TaskUpdate{
			SourceID: req.SourceID,
			TargetID: targetID,
			Status:   res.Status,
			Error:    res.Error,
			Result:   wave.DispatchPayload(res),
		})
		if err != nil {
			return nil, fmt.Errorf("could not store launch result: %w", err)
		}
		s.logger.Infof("Task %s launched into %s (status: %s)", req.SourceID, targetID, res.Status)
	}

	task, err := s.repo.GetTask(ctx, "", req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("could not get launched task: %w", err)
	}

	return task, nil
}
