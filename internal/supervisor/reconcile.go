package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/slok/wavemig/internal/conventions"
	"github.com/slok/wavemig/internal/model"
)

const workerEndedMsg = "worker process ended without reporting completion"

// Reconcile resolves the status of an in progress task whose worker is gone. The worker output
// is checked for a success marker before declaring the task failed, the worker may have
// finished and removed its lock just before the probe.
func (s *Supervisor) Reconcile(ctx context.Context, task model.MigrationTask) (*model.MigrationTask, error) {
	if task.Status != model.TaskStatusInProgress {
		return &task, nil
	}

	if payloadSucceeded(task.Result) {
		s.logger.Infof("Task %s reconciled as completed from its result", task.SourceID)
		return s.settle(ctx, task, model.TaskStatusCompleted, "")
	}

	ok, err := s.logSucceeded(task.SourceID, task.TargetID)
	if err != nil {
		s.logger.Warningf("Could not inspect worker log of task %s: %v", task.SourceID, err)
	}
	if ok {
		s.logger.Infof("Task %s reconciled as completed from its worker log", task.SourceID)
		return s.settle(ctx, task, model.TaskStatusCompleted, "")
	}

	s.logger.Warningf("Task %s reconciled as failed: %s", task.SourceID, workerEndedMsg)
	return s.settle(ctx, task, model.TaskStatusError, workerEndedMsg)
}

// payloadSucceeded returns true when the worker result has an explicit success marker.
func payloadSucceeded(payload map[string]any) bool {
	if payload == nil {
		return false
	}

	if v, ok := payload["success"].(bool); ok && v {
		return true
	}

	status, _ := payload["status"].(string)
	switch strings.ToLower(status) {
	case "completed", "success":
		return true
	}

	return false
}

func (s *Supervisor) logSucceeded(sourceID, targetID string) (bool, error) {
	if s.logDir == "" || targetID == "" {
		return false, nil
	}

	tail, err := readTail(conventions.LogFilePath(s.logDir, sourceID, targetID), s.logTailBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	tail = strings.ToLower(tail)
	for _, m := range s.successMarkers {
		if strings.Contains(tail, strings.ToLower(m)) {
			return true, nil
		}
	}

	return false, nil
}

func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("could not stat log: %w", err)
	}

	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}

	data, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return "", fmt.Errorf("could not read log: %w", err)
	}

	return string(data), nil
}
