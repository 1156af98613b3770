package wavestatus

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage"
)

// Supervisor checks and reconciles task workers.
type Supervisor interface {
	ProbeTask(ctx context.Context, task model.MigrationTask) (*model.ProbeResult, error)
	Reconcile(ctx context.Context, task model.MigrationTask) (*model.MigrationTask, error)
}

// ServiceConfig is the configuration for the wave status service.
type ServiceConfig struct {
	Repository storage.Repository
	Supervisor Supervisor
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Supervisor == nil {
		return fmt.Errorf("supervisor is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.wavestatus"})

	return nil
}

// Service returns the wave details, healing the task states on every read.
type Service struct {
	repo       storage.Repository
	supervisor Supervisor
	logger     log.Logger
}

// NewService creates a new wave status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:       cfg.Repository,
		supervisor: cfg.Supervisor,
		logger:     cfg.Logger,
	}, nil
}

// Request represents the wave status request parameters.
type Request struct {
	WaveID string
}

// Response is the wave with its tasks and the worker liveness of the active ones.
type Response struct {
	Wave  model.Wave
	Tasks []model.MigrationTask
	// Probes is indexed by task source ID.
	Probes map[string]model.ProbeResult
}

// Run makes a monitoring pass over the wave tasks and returns the wave details.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	wave, err := s.repo.GetWave(ctx, req.WaveID)
	if err != nil {
		return nil, fmt.Errorf("could not get wave: %w", err)
	}

	tasks, err := s.repo.GetTasksForWave(ctx, req.WaveID)
	if err != nil {
		return nil, fmt.Errorf("could not get wave tasks: %w", err)
	}

	logger := s.logger.WithValues(log.Kv{"wave": wave.ID})
	probes := map[string]model.ProbeResult{}
	var promoted []model.TaskUpdate
	changed := false

	for i, t := range tasks {
		if t.Status.IsTerminal() || t.TargetID == "" {
			continue
		}

		res, err := s.supervisor.ProbeTask(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warningf("Could not probe task %s: %v", t.SourceID, err)
			continue
		}
		probes[t.SourceID] = *res

		switch {
		// The worker may remove its lock right before exiting, any in progress task without a
		// live worker is settled from its durable output.
		case t.Status == model.TaskStatusInProgress && !res.Running:
			reconciled, err := s.supervisor.Reconcile(ctx, t)
			if err != nil {
				logger.Warningf("Could not reconcile task %s: %v", t.SourceID, err)
				continue
			}
			if reconciled.Status != t.Status {
				tasks[i] = *reconciled
				changed = true
			}

		case t.Status == model.TaskStatusPending && res.Running:
			logger.Infof("Task %s worker is running, promoting to in progress", t.SourceID)
			tasks[i].Status = model.TaskStatusInProgress
			promoted = append(promoted, model.TaskUpdate{
				SourceID: t.SourceID,
				WaveID:   wave.ID,
				TargetID: t.TargetID,
				Status:   model.TaskStatusInProgress,
			})
			changed = true
		}
	}

	if changed {
		progress := model.ProgressFromTasks(len(wave.Members), tasks)
		status := progress.DeriveStatus(wave.Status != model.WaveStatusPending || len(promoted) > 0)
		err := s.repo.UpdateWaveProgress(ctx, model.WaveProgressUpdate{
			WaveID:   wave.ID,
			Progress: progress,
			Members:  promoted,
			Status:   &status,
		})
		if err != nil {
			return nil, fmt.Errorf("could not update wave progress: %w", err)
		}

		logger.Infof("Wave progress healed: %d/%d completed, %d failed (status: %s)", progress.Completed, progress.Total, progress.Failed, status)
		wave.Progress = progress
		wave.Status = status
	}

	return &Response{
		Wave:   *wave,
		Tasks:  tasks,
		Probes: probes,
	}, nil
}
