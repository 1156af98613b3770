package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
	"github.com/slok/wavemig/internal/storage"
)

// DefaultSuccessMarkers are the log lines workers write when a migration finishes fine.
var DefaultSuccessMarkers = []string{
	"migration completed successfully",
	"migration_status=completed",
	"[success] migration finished",
}

// Config is the configuration for the supervisor.
type Config struct {
	Repository storage.TaskRepository
	Table      process.Table
	// Probes are the OS discovery strategies in order, defaults to process.DefaultProbes.
	Probes   []process.LivenessProbe
	LockDir  string
	CacheDir string
	LogDir   string
	// StaleAfter is the lock age from which a lock without a live worker is abandoned.
	StaleAfter time.Duration
	TermGrace  time.Duration
	KillGrace  time.Duration
	// SuccessMarkers are searched (case insensitive) on the tail of the worker log.
	SuccessMarkers []string
	LogTailBytes   int64
	Metrics        metrics.Recorder
	Logger         log.Logger
	Now            func() time.Time
	// Sleep waits d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Table == nil {
		c.Table = process.NewProcFS("")
	}

	if c.Probes == nil {
		c.Probes = process.DefaultProbes(c.Table)
	}

	if c.LockDir == "" {
		return fmt.Errorf("lock dir is required")
	}

	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}

	if c.TermGrace <= 0 {
		c.TermGrace = 500 * time.Millisecond
	}

	if c.KillGrace <= 0 {
		c.KillGrace = 200 * time.Millisecond
	}

	if len(c.SuccessMarkers) == 0 {
		c.SuccessMarkers = DefaultSuccessMarkers
	}

	if c.LogTailBytes <= 0 {
		c.LogTailBytes = 64 * 1024
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "supervisor.Supervisor"})

	if c.Now == nil {
		c.Now = time.Now
	}

	if c.Sleep == nil {
		c.Sleep = sleep
	}

	return nil
}

// Supervisor knows if the worker processes of the tasks are alive, reconciles the tasks whose
// worker is gone and terminates stuck workers.
type Supervisor struct {
	repo           storage.TaskRepository
	table          process.Table
	probes         []process.LivenessProbe
	lockDir        string
	cacheDir       string
	logDir         string
	staleAfter     time.Duration
	termGrace      time.Duration
	killGrace      time.Duration
	successMarkers []string
	logTailBytes   int64
	metrics        metrics.Recorder
	logger         log.Logger
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// New returns a new supervisor.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Supervisor{
		repo:           cfg.Repository,
		table:          cfg.Table,
		probes:         cfg.Probes,
		lockDir:        cfg.LockDir,
		cacheDir:       cfg.CacheDir,
		logDir:         cfg.LogDir,
		staleAfter:     cfg.StaleAfter,
		termGrace:      cfg.TermGrace,
		killGrace:      cfg.KillGrace,
		successMarkers: cfg.SuccessMarkers,
		logTailBytes:   cfg.LogTailBytes,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
		sleep:          cfg.Sleep,
	}, nil
}

// findTask returns the stored task of the pair, nil when there is none.
func (s *Supervisor) findTask(ctx context.Context, sourceID, targetID string) (*model.MigrationTask, error) {
	task, err := s.repo.FindTaskByProjects(ctx, sourceID, targetID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	return task, nil
}

func (s *Supervisor) transition(ctx context.Context, task model.MigrationTask, to model.TaskStatus, errMsg string) (*model.MigrationTask, error) {
	return s.setStatus(ctx, task, to, errMsg, "")
}

// settle moves a task out of the status it was read with. When the task changed meanwhile (e.g.
// a worker result arrived) the stored task is returned untouched.
func (s *Supervisor) settle(ctx context.Context, task model.MigrationTask, to model.TaskStatus, errMsg string) (*model.MigrationTask, error) {
	updated, err := s.setStatus(ctx, task, to, errMsg, task.Status)
	if !errors.Is(err, model.ErrConflict) {
		return updated, err
	}

	s.logger.Infof("Task %s changed while being settled, keeping the stored status: %v", task.SourceID, err)
	current, err := s.repo.GetTask(ctx, task.WaveID, task.SourceID)
	if err != nil {
		return nil, fmt.Errorf("could not get task %s: %w", task.SourceID, err)
	}
	return current, nil
}

func (s *Supervisor) setStatus(ctx context.Context, task model.MigrationTask, to model.TaskStatus, errMsg string, from model.TaskStatus) (*model.MigrationTask, error) {
	err := s.repo.SetTaskStatus(ctx, model.TaskUpdate{
		SourceID:   task.SourceID,
		WaveID:     task.WaveID,
		TargetID:   task.TargetID,
		Status:     to,
		Error:      errMsg,
		FromStatus: from,
	})
	if err != nil {
		return nil, fmt.Errorf("could not update task %s status: %w", task.SourceID, err)
	}
	s.metrics.ObserveTaskTransition(ctx, task.Status, to)

	updated := task
	updated.Status = to
	updated.Error = errMsg
	return &updated, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
