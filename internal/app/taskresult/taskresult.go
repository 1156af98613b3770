package taskresult

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage"
)

// ServiceConfig is the configuration for the task result service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.taskresult"})

	return nil
}

// Service stores the results the worker reports through its webhook.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new task result service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request is a worker callback.
type Request struct {
	SourceID string
	TargetID string
	// WaveID is looked up by the source and target when missing.
	WaveID  string
	Payload map[string]any
}

// Run stores the worker result and refreshes the progress of its wave.
func (s *Service) Run(ctx context.Context, req Request) (*model.TaskResult, error) {
	if req.SourceID == "" {
		return nil, fmt.Errorf("source id is required: %w", model.ErrNotValid)
	}

	waveID := req.WaveID
	if waveID == "" && req.TargetID != "" {
		task, err := s.repo.FindTaskByProjects(ctx, req.SourceID, req.TargetID)
		switch {
		case err == nil:
			waveID = task.WaveID
		case errors.Is(err, model.ErrNotFound):
		default:
			return nil, fmt.Errorf("could not find task: %w", err)
		}
	}

	status, errMsg := ParsePayload(req.Payload)
	result := model.TaskResult{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		WaveID:   waveID,
		Status:   status,
		Error:    errMsg,
		Payload:  req.Payload,
	}

	if err := s.repo.UpsertTaskResult(ctx, result); err != nil {
		return nil, fmt.Errorf("could not store result: %w", err)
	}

	s.logger.Infof("Worker reported task %s as %s (wave: %q)", req.SourceID, status, waveID)

	if waveID != "" {
		if err := s.refreshWave(ctx, waveID); err != nil {
			return nil, err
		}
	}

	return &result, nil
}

func (s *Service) refreshWave(ctx context.Context, waveID string) error {
	wave, err := s.repo.GetWave(ctx, waveID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Warningf("Result for unknown wave %s", waveID)
			return nil
		}
		return fmt.Errorf("could not get wave: %w", err)
	}

	tasks, err := s.repo.GetTasksForWave(ctx, waveID)
	if err != nil {
		return fmt.Errorf("could not get wave tasks: %w", err)
	}

	progress := model.ProgressFromTasks(len(wave.Members), tasks)
	status := progress.DeriveStatus(true)
	err = s.repo.UpdateWaveProgress(ctx, model.WaveProgressUpdate{
		WaveID:   waveID,
		Progress: progress,
		Status:   &status,
	})
	if err != nil {
		return fmt.Errorf("could not update wave progress: %w", err)
	}

	return nil
}

// ParsePayload returns the task status and error the worker payload reports. Unknown
// payloads mean the worker is still running.
func ParsePayload(payload map[string]any) (model.TaskStatus, string) {
	errMsg := firstString(payload, "error", "error_message", "message")

	raw := strings.ToLower(strings.TrimSpace(firstString(payload, "status", "state")))
	switch raw {
	case "completed", "complete", "success", "succeeded", "done", "finished":
		return model.TaskStatusCompleted, ""
	case "error", "failed", "failure", "cancelled", "canceled":
		if errMsg == "" {
			errMsg = "worker reported status " + raw
		}
		return model.TaskStatusError, errMsg
	case "in_progress", "running", "started", "processing":
		return model.TaskStatusInProgress, ""
	case "pending", "queued":
		return model.TaskStatusPending, ""
	}

	if ok, isBool := payload["success"].(bool); isBool {
		if ok {
			return model.TaskStatusCompleted, ""
		}
		if errMsg == "" {
			errMsg = "worker reported an unsuccessful migration"
		}
		return model.TaskStatusError, errMsg
	}

	return model.TaskStatusInProgress, ""
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
