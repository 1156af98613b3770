package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/slok/wavemig/internal/conventions"
	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
)

const manualTerminationMsg = "worker process terminated manually"

// Kill terminates the worker of a task. Without force the worker gets a SIGTERM and a grace
// period before the SIGKILL, with force it's killed right away. A task in progress whose worker
// is confirmed dead is marked as failed.
func (s *Supervisor) Kill(ctx context.Context, sourceID, targetID string, force bool) (*model.KillResult, error) {
	logger := s.logger.WithValues(log.Kv{"source": sourceID, "target": targetID})

	task, err := s.findTask(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	var status model.TaskStatus
	if task != nil {
		status = task.Status
	}

	res, err := s.probe(ctx, sourceID, targetID, status)
	if err != nil {
		return nil, err
	}

	pid := 0
	if res.Running {
		pid = res.PID
	}
	if pid == 0 {
		target := process.Target{
			SourceID: sourceID,
			TargetID: targetID,
			LockPath: conventions.LockFilePath(s.lockDir, sourceID, targetID),
		}
		pid, _, err = process.FindFirst(ctx, s.probes, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warningf("Process discovery failed: %v", err)
		}
	}

	if pid == 0 {
		logger.Infof("No worker process found")
		return &model.KillResult{}, nil
	}

	killed, err := s.killPID(ctx, pid, force)
	if err != nil {
		return &model.KillResult{PID: pid}, err
	}
	if !killed {
		logger.Warningf("Worker process %d survived the kill", pid)
		return &model.KillResult{PID: pid}, nil
	}
	logger.Infof("Worker process %d terminated", pid)

	if task != nil && task.Status == model.TaskStatusInProgress {
		if _, err := s.settle(ctx, *task, model.TaskStatusError, manualTerminationMsg); err != nil {
			return &model.KillResult{Killed: true, PID: pid}, err
		}
	}

	return &model.KillResult{Killed: true, PID: pid}, nil
}

// killPID terminates pid and returns true when the process is confirmed dead.
func (s *Supervisor) killPID(ctx context.Context, pid int, force bool) (bool, error) {
	if !force {
		if err := s.table.Signal(pid, syscall.SIGTERM); err != nil && s.table.Alive(pid) {
			return false, fmt.Errorf("could not terminate process %d: %w", pid, err)
		}
		if err := s.sleep(ctx, s.termGrace); err != nil {
			return false, err
		}
		if !s.table.Alive(pid) {
			return true, nil
		}
		s.logger.Debugf("Process %d still alive after SIGTERM, escalating", pid)
	}

	if err := s.table.Signal(pid, syscall.SIGKILL); err != nil && s.table.Alive(pid) {
		return false, fmt.Errorf("could not kill process %d: %w", pid, err)
	}
	if err := s.sleep(ctx, s.killGrace); err != nil {
		return false, err
	}

	return !s.table.Alive(pid), nil
}

// HardReset clears a stuck task: kills every worker candidate, removes its lock and cache
// artifacts and sets it back to pending. Every step is independent, the failures are reported
// on the summary and only a context cancellation returns an error.
func (s *Supervisor) HardReset(ctx context.Context, sourceID, targetID string) (*model.ResetSummary, error) {
	logger := s.logger.WithValues(log.Kv{"source": sourceID, "target": targetID})
	summary := &model.ResetSummary{}
	lockPath := conventions.LockFilePath(s.lockDir, sourceID, targetID)

	// Kill.
	lock, err := process.ReadLock(lockPath)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		summary.Errors = append(summary.Errors, err.Error())
	}
	target := process.Target{SourceID: sourceID, TargetID: targetID, LockPath: lockPath, Lock: lock}
	probes := append([]process.LivenessProbe{process.LockPIDProbe{Table: s.table}}, s.probes...)
	pids, errs := process.FindAll(ctx, probes, target)
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	for _, err := range errs {
		summary.Errors = append(summary.Errors, err.Error())
	}
	for _, pid := range pids {
		killed, err := s.killPID(ctx, pid, false)
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if err != nil {
			logger.Warningf("Could not kill worker process %d: %v", pid, err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if killed {
			summary.ProcessKilled = true
			summary.KilledPIDs = append(summary.KilledPIDs, pid)
		} else {
			summary.Errors = append(summary.Errors, fmt.Sprintf("process %d survived the kill", pid))
		}
	}

	// Artifacts.
	summary.LockRemoved = s.removeArtifact(lockPath, summary)
	if s.cacheDir != "" {
		summary.CacheRemoved = s.removeArtifact(conventions.CacheFilePath(s.cacheDir, sourceID, targetID), summary)
	}

	// Status.
	task, err := s.findTask(ctx, sourceID, targetID)
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	switch {
	case err != nil:
		summary.Errors = append(summary.Errors, err.Error())
	case task != nil:
		if _, err := s.transition(ctx, *task, model.TaskStatusPending, ""); err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Errors = append(summary.Errors, err.Error())
		} else {
			summary.StatusReset = true
		}
	}

	logger.Infof("Hard reset finished: killed=%t lock=%t cache=%t status=%t errors=%d",
		summary.ProcessKilled, summary.LockRemoved, summary.CacheRemoved, summary.StatusReset, len(summary.Errors))

	return summary, nil
}

// removeArtifact returns true when the file existed and was removed.
func (s *Supervisor) removeArtifact(path string, summary *model.ResetSummary) bool {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true
	case errors.Is(err, fs.ErrNotExist):
		return false
	default:
		summary.Errors = append(summary.Errors, fmt.Sprintf("could not remove %s: %s", path, err))
		return false
	}
}
