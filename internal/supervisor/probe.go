package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/wavemig/internal/conventions"
	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
)

// Probe rules, reported on the metrics.
const (
	ruleNoLock        = "no-lock"
	ruleLockPIDAlive  = "lock-pid-alive"
	ruleLockPIDDead   = "lock-pid-dead"
	ruleFreshLock     = "fresh-lock"
	ruleOSDiscovery   = "os-discovery"
	ruleStaleLock     = "stale-lock"
	ruleStartupGrace  = "startup-grace"
	ruleNoTargetKnown = "no-target"
)

// Probe tells if the worker of the source to target migration is running.
func (s *Supervisor) Probe(ctx context.Context, sourceID, targetID string) (*model.ProbeResult, error) {
	task, err := s.findTask(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}

	var status model.TaskStatus
	if task != nil {
		status = task.Status
	}

	return s.probe(ctx, sourceID, targetID, status)
}

// ProbeTask is like Probe using the already loaded task durable state.
func (s *Supervisor) ProbeTask(ctx context.Context, task model.MigrationTask) (*model.ProbeResult, error) {
	if task.TargetID == "" {
		s.metrics.ObserveProbe(ctx, false, ruleNoTargetKnown)
		return &model.ProbeResult{Reason: "task has no target yet"}, nil
	}

	return s.probe(ctx, task.SourceID, task.TargetID, task.Status)
}

// probe applies the liveness rules in order, the first one that matches decides.
func (s *Supervisor) probe(ctx context.Context, sourceID, targetID string, status model.TaskStatus) (*model.ProbeResult, error) {
	logger := s.logger.WithValues(log.Kv{"source": sourceID, "target": targetID})
	lockPath := conventions.LockFilePath(s.lockDir, sourceID, targetID)

	lock, err := process.ReadLock(lockPath)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return s.verdict(ctx, ruleNoLock, &model.ProbeResult{Reason: "no lock file"}), nil
		}
		return nil, fmt.Errorf("could not read lock: %w", err)
	}

	age := lock.Age(s.now())
	ageSeconds := int(age.Seconds())
	res := &model.ProbeResult{
		LockAgeSeconds: &ageSeconds,
		Stage:          lock.StageInfo(),
	}

	if lock.PID > 0 {
		res.PID = lock.PID
		if s.table.Alive(lock.PID) {
			res.Running = true
			res.Reason = "worker process recorded on the lock is alive"
			return s.verdict(ctx, ruleLockPIDAlive, res), nil
		}

		res.ShouldReconcile = true
		res.Reason = fmt.Sprintf("worker process %d recorded on the lock is gone", lock.PID)
		return s.verdict(ctx, ruleLockPIDDead, res), nil
	}

	if age < s.staleAfter && status == model.TaskStatusInProgress {
		res.Running = true
		res.Reason = "recent lock without process of an in progress task"
		return s.verdict(ctx, ruleFreshLock, res), nil
	}

	target := process.Target{SourceID: sourceID, TargetID: targetID, LockPath: lockPath, Lock: lock}
	pid, probe, err := process.FindFirst(ctx, s.probes, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warningf("Process discovery failed, deciding on lock age: %v", err)
	}
	if pid > 0 {
		res.Running = true
		res.PID = pid
		res.Reason = fmt.Sprintf("worker process found by %s probe", probe)
		return s.verdict(ctx, ruleOSDiscovery, res), nil
	}

	if age >= s.staleAfter {
		res.ShouldReconcile = true
		res.Reason = fmt.Sprintf("lock is stale (%ds) and no worker process was found", ageSeconds)
		return s.verdict(ctx, ruleStaleLock, res), nil
	}

	res.Running = true
	res.Reason = "recent lock, worker may be starting"
	return s.verdict(ctx, ruleStartupGrace, res), nil
}

func (s *Supervisor) verdict(ctx context.Context, rule string, res *model.ProbeResult) *model.ProbeResult {
	s.metrics.ObserveProbe(ctx, res.Running, rule)
	return res
}
