package wave

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/wavemig/internal/dispatch"
	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/provision"
	"github.com/slok/wavemig/internal/storage"
)

// SettingsLoader loads the runtime settings.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
}

// BatchDispatcher sends the job start requests of a batch.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, reqs []model.DispatchRequest, limit int) <-chan model.DispatchResult
}

// DispatcherFactory returns the dispatcher for the loaded settings.
type DispatcherFactory func(s model.Settings) (BatchDispatcher, error)

// RunnerConfig is the configuration of the wave runner.
type RunnerConfig struct {
	Repository  storage.Repository
	Settings    SettingsLoader
	Provisioner provision.Provisioner
	// NewDispatcher defaults to a dispatch.Dispatcher built from the settings.
	NewDispatcher DispatcherFactory
	Metrics       metrics.Recorder
	Logger        log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Settings == nil {
		return fmt.Errorf("settings loader is required")
	}

	if c.Provisioner == nil {
		c.Provisioner = provision.Disabled
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "wave.Runner"})

	if c.NewDispatcher == nil {
		c.NewDispatcher = NewHTTPDispatcherFactory(c.Metrics, c.Logger)
	}

	return nil
}

// NewHTTPDispatcherFactory returns a factory of dispatch.Dispatcher configured from the settings.
func NewHTTPDispatcherFactory(rec metrics.Recorder, logger log.Logger) DispatcherFactory {
	return func(s model.Settings) (BatchDispatcher, error) {
		return dispatch.NewDispatcher(dispatch.Config{
			WorkerURL:      s.WorkerURL,
			SiteID:         s.SiteID,
			Secret:         s.Secret,
			WebhookURL:     s.WebhookURL,
			ExtraParams:    s.ExtraParams,
			ConnectTimeout: s.ConnectTimeout,
			RequestTimeout: s.RequestTimeout,
			Metrics:        rec,
			Logger:         logger,
		})
	}
}

// Runner provisions, dispatches and reconciles the tasks of a wave.
type Runner struct {
	repo          storage.Repository
	settings      SettingsLoader
	provisioner   provision.Provisioner
	newDispatcher DispatcherFactory
	logger        log.Logger
}

// NewRunner returns a new wave runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		repo:          cfg.Repository,
		settings:      cfg.Settings,
		provisioner:   cfg.Provisioner,
		newDispatcher: cfg.NewDispatcher,
		logger:        cfg.Logger,
	}, nil
}

// RunWave runs every task of the wave. A configuration error fails the whole wave, its tasks
// are marked with the error so the wave doesn't stay pending.
func (r *Runner) RunWave(ctx context.Context, waveID string) (*model.Wave, error) {
	wave, err := r.runTasks(ctx, waveID, nil)
	if err != nil && IsFatal(err) {
		if ferr := r.failWave(ctx, waveID, err); ferr != nil {
			r.logger.Errorf("Could not mark wave %s as failed: %v", waveID, ferr)
		}
	}
	return wave, err
}

// RunTasks runs only the sourceIDs tasks of the wave, reusing their known targets.
func (r *Runner) RunTasks(ctx context.Context, waveID string, sourceIDs []string) (*model.Wave, error) {
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("at least one task is required: %w", model.ErrNotValid)
	}

	return r.runTasks(ctx, waveID, sourceIDs)
}

func (r *Runner) failWave(ctx context.Context, waveID string, cause error) error {
	wave, err := r.repo.GetWave(ctx, waveID)
	if err != nil {
		return fmt.Errorf("could not get wave: %w", err)
	}

	tasks, err := r.repo.GetTasksForWave(ctx, waveID)
	if err != nil {
		return fmt.Errorf("could not get wave tasks: %w", err)
	}

	msg := fmt.Sprintf("wave could not be launched: %s", cause)
	var members []model.TaskUpdate
	for i, t := range tasks {
		if t.Status != model.TaskStatusPending {
			continue
		}
		tasks[i].Status = model.TaskStatusError
		tasks[i].Error = msg
		members = append(members, model.TaskUpdate{
			SourceID: t.SourceID,
			WaveID:   waveID,
			TargetID: t.TargetID,
			Status:   model.TaskStatusError,
			Error:    msg,
		})
	}

	progress := model.ProgressFromTasks(len(wave.Members), tasks)
	status := progress.DeriveStatus(true)
	return r.repo.UpdateWaveProgress(ctx, model.WaveProgressUpdate{
		WaveID:   waveID,
		Progress: progress,
		Members:  members,
		Status:   &status,
	})
}

func (r *Runner) runTasks(ctx context.Context, waveID string, sourceIDs []string) (*model.Wave, error) {
	logger := r.logger.WithValues(log.Kv{"wave": waveID})

	settings, err := r.settings.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load settings: %w", err)
	}
	if err := settings.ValidateCredentials(); err != nil {
		return nil, err
	}

	dispatcher, err := r.newDispatcher(settings)
	if err != nil {
		return nil, fmt.Errorf("could not create dispatcher: %w: %w", err, model.ErrConfiguration)
	}

	wave, err := r.repo.GetWave(ctx, waveID)
	if err != nil {
		return nil, fmt.Errorf("could not get wave: %w", err)
	}

	tasks, err := r.repo.GetTasksForWave(ctx, waveID)
	if err != nil {
		return nil, fmt.Errorf("could not get wave tasks: %w", err)
	}

	selected, err := selectTasks(tasks, sourceIDs)
	if err != nil {
		return nil, err
	}

	inProgress := model.WaveStatusInProgress
	err = r.repo.UpdateWaveProgress(ctx, model.WaveProgressUpdate{
		WaveID:   waveID,
		Progress: model.ProgressFromTasks(len(wave.Members), tasks),
		Status:   &inProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("could not mark wave in progress: %w", err)
	}

	logger.Infof("Running %d of %d tasks", len(selected), len(tasks))

	updates := map[string]model.TaskUpdate{}

	// Provisioning.
	var reqs []model.DispatchRequest
	known := map[string]string{}
	for _, t := range selected {
		targetID := t.TargetID
		if targetID == "" {
			targetID, err = r.provisioner.ResolveOrCreateProject(ctx, t.SourceID, wave.WorkspaceID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.Warningf("Provisioning of task %s failed: %v", t.SourceID, err)
				updates[t.SourceID] = model.TaskUpdate{
					SourceID: t.SourceID,
					WaveID:   waveID,
					Status:   model.TaskStatusError,
					Error:    fmt.Sprintf("provisioning failed: %s", err),
				}
				continue
			}
		} else {
			known[t.SourceID] = targetID
		}

		reqs = append(reqs, model.DispatchRequest{SourceID: t.SourceID, TargetID: targetID, WaveID: waveID})
	}

	// Dispatch and reconcile each launch.
	for res := range dispatcher.DispatchBatch(ctx, reqs, wave.ConcurrencyLimit) {
		targetID := res.TargetID
		if stored, ok := known[res.SourceID]; ok && stored != targetID {
			logger.Warningf("Worker acknowledged task %s with target %s, keeping %s", res.SourceID, targetID, stored)
			targetID = stored
		}

		u := model.TaskUpdate{
			SourceID: res.SourceID,
			WaveID:   waveID,
			TargetID: targetID,
			Status:   res.Status,
			Error:    res.Error,
			Result:   DispatchPayload(res),
		}
		updates[res.SourceID] = u

		err := r.repo.UpsertTaskResult(ctx, model.TaskResult{
			SourceID: u.SourceID,
			TargetID: u.TargetID,
			WaveID:   u.WaveID,
			Status:   u.Status,
			Error:    u.Error,
			Payload:  u.Result,
		})
		if err != nil {
			logger.Warningf("Could not store launch result of task %s: %v", res.SourceID, err)
		}
	}

	// Progress.
	members := make([]model.TaskUpdate, 0, len(updates))
	merged := make([]model.MigrationTask, 0, len(tasks))
	for _, t := range tasks {
		if u, ok := updates[t.SourceID]; ok {
			t.Status = u.Status
			t.Error = u.Error
			if u.TargetID != "" {
				t.TargetID = u.TargetID
			}
			members = append(members, u)
		}
		merged = append(merged, t)
	}

	progress := model.ProgressFromTasks(len(wave.Members), merged)
	status := progress.DeriveStatus(true)
	err = r.repo.UpdateWaveProgress(ctx, model.WaveProgressUpdate{
		WaveID:   waveID,
		Progress: progress,
		Members:  members,
		Status:   &status,
	})
	if err != nil {
		return nil, fmt.Errorf("could not update wave progress: %w", err)
	}

	logger.Infof("Wave run finished: %d launched, progress %d/%d completed, %d failed (status: %s)",
		len(reqs), progress.Completed, progress.Total, progress.Failed, status)

	wave.Progress = progress
	wave.Status = status
	return wave, nil
}

// selectTasks returns the tasks to run, all of them when sourceIDs is empty.
func selectTasks(tasks []model.MigrationTask, sourceIDs []string) ([]model.MigrationTask, error) {
	if len(sourceIDs) == 0 {
		return tasks, nil
	}

	index := make(map[string]model.MigrationTask, len(tasks))
	for _, t := range tasks {
		index[t.SourceID] = t
	}

	selected := make([]model.MigrationTask, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		t, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("task %s is not a wave member: %w", id, model.ErrNotFound)
		}
		selected = append(selected, t)
	}

	return selected, nil
}

// DispatchPayload is the task result stored for a launch. The launch details are nested so
// they never look like a worker final result.
func DispatchPayload(res model.DispatchResult) map[string]any {
	launch := map[string]any{
		"success":   res.Success,
		"http_code": res.HTTPCode,
	}
	if res.Payload != nil {
		launch["ack"] = res.Payload
	} else if res.Body != "" {
		launch["body"] = res.Body
	}

	return map[string]any{"dispatch": launch}
}

// IsFatal returns true for the errors that stop a whole wave run.
func IsFatal(err error) bool {
	return errors.Is(err, model.ErrConfiguration)
}
