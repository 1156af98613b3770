package wave_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/app/wavestatus"
	"github.com/slok/wavemig/internal/conventions"
	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
	"github.com/slok/wavemig/internal/provision/provisionmock"
	"github.com/slok/wavemig/internal/storage/sqlite"
	"github.com/slok/wavemig/internal/supervisor"
	"github.com/slok/wavemig/internal/wave"
)

type settingsFunc func() (model.Settings, error)

func (s settingsFunc) LoadSettings(context.Context) (model.Settings, error) { return s() }

func validSettings() (model.Settings, error) {
	return model.Settings{WorkerURL: "http://worker", SiteID: "site", Secret: "secret"}, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	reqs  []model.DispatchRequest
	limit int
	ack   func(r model.DispatchRequest) model.DispatchResult
}

func (f *fakeDispatcher) DispatchBatch(ctx context.Context, reqs []model.DispatchRequest, limit int) <-chan model.DispatchResult {
	f.mu.Lock()
	f.reqs = append(f.reqs, reqs...)
	f.limit = limit
	f.mu.Unlock()

	ch := make(chan model.DispatchResult, len(reqs))
	for _, r := range reqs {
		ch <- f.ack(r)
	}
	close(ch)
	return ch
}

func ackInProgress(r model.DispatchRequest) model.DispatchResult {
	return model.DispatchResult{
		SourceID: r.SourceID,
		TargetID: r.TargetID,
		WaveID:   r.WaveID,
		Success:  true,
		Status:   model.TaskStatusInProgress,
		HTTPCode: 202,
		Payload:  map[string]any{"accepted": true},
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "wavemig.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func createWave(t *testing.T, repo *sqlite.Repository, members ...string) {
	t.Helper()
	err := repo.CreateWave(context.Background(), model.Wave{
		ID:               "w1",
		Name:             "first wave",
		WorkspaceID:      "ws-1",
		Members:          members,
		ConcurrencyLimit: 2,
		Status:           model.WaveStatusPending,
		Progress:         model.WaveProgress{Total: len(members)},
		CreatedAt:        time.Now(),
	})
	require.NoError(t, err)
}

func TestRunnerRunWave(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	createWave(t, repo, "a", "b", "c")

	prov := &provisionmock.MockProvisioner{}
	prov.On("ResolveOrCreateProject", mock.Anything, "a", "ws-1").Once().Return("t-a", nil)
	prov.On("ResolveOrCreateProject", mock.Anything, "b", "ws-1").Once().Return("t-b", nil)
	prov.On("ResolveOrCreateProject", mock.Anything, "c", "ws-1").Once().Return("", fmt.Errorf("quota exceeded: %w", model.ErrProvisioning))

	disp := &fakeDispatcher{ack: ackInProgress}
	runner, err := wave.NewRunner(wave.RunnerConfig{
		Repository:    repo,
		Settings:      settingsFunc(validSettings),
		Provisioner:   prov,
		NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return disp, nil },
		Logger:        log.Noop,
	})
	require.NoError(t, err)

	w, err := runner.RunWave(ctx, "w1")
	require.NoError(t, err)

	assert.Equal(t, model.WaveProgress{Total: 3, Completed: 0, Failed: 1}, w.Progress)
	assert.Equal(t, model.WaveStatusInProgress, w.Status)
	assert.Equal(t, 2, disp.limit)
	assert.Len(t, disp.reqs, 2)
	prov.AssertExpectations(t)

	stored, err := repo.GetWave(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, w.Progress, stored.Progress)
	assert.Equal(t, model.WaveStatusInProgress, stored.Status)

	tasks, err := repo.GetTasksForWave(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "t-a", tasks[0].TargetID)
	assert.Equal(t, model.TaskStatusInProgress, tasks[0].Status)
	assert.Equal(t, "t-b", tasks[1].TargetID)
	assert.Equal(t, model.TaskStatusInProgress, tasks[1].Status)
	assert.Equal(t, model.TaskStatusError, tasks[2].Status)
	assert.Contains(t, tasks[2].Error, "provisioning failed")
}

func TestRunnerFailedLaunchesFinishTheWave(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	createWave(t, repo, "a", "b")

	prov := &provisionmock.MockProvisioner{}
	prov.On("ResolveOrCreateProject", mock.Anything, mock.Anything, "ws-1").Return("t", nil)

	disp := &fakeDispatcher{ack: func(r model.DispatchRequest) model.DispatchResult {
		return model.DispatchResult{
			SourceID: r.SourceID,
			TargetID: r.SourceID + "-target",
			WaveID:   r.WaveID,
			Status:   model.TaskStatusError,
			HTTPCode: 500,
			Error:    "worker rejected the job",
		}
	}}
	runner, err := wave.NewRunner(wave.RunnerConfig{
		Repository:    repo,
		Settings:      settingsFunc(validSettings),
		Provisioner:   prov,
		NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return disp, nil },
	})
	require.NoError(t, err)

	w, err := runner.RunWave(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.WaveProgress{Total: 2, Failed: 2}, w.Progress)
	assert.Equal(t, model.WaveStatusError, w.Status)

	task, err := repo.GetTask(ctx, "w1", "a")
	require.NoError(t, err)
	assert.Equal(t, "worker rejected the job", task.Error)
	assert.Equal(t, "a-target", task.TargetID)
	assert.Contains(t, task.Result, "dispatch")
}

func TestRunnerRunTasksKeepsStoredTarget(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	createWave(t, repo, "a", "b")

	require.NoError(t, repo.SetTaskStatus(ctx, model.TaskUpdate{
		SourceID: "a",
		WaveID:   "w1",
		TargetID: "t-a",
		Status:   model.TaskStatusError,
		Error:    "worker process ended without reporting completion",
	}))

	// No provisioning is expected, the task already has its target.
	prov := &provisionmock.MockProvisioner{}
	disp := &fakeDispatcher{ack: func(r model.DispatchRequest) model.DispatchResult {
		res := ackInProgress(r)
		res.TargetID = "other"
		return res
	}}
	runner, err := wave.NewRunner(wave.RunnerConfig{
		Repository:    repo,
		Settings:      settingsFunc(validSettings),
		Provisioner:   prov,
		NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return disp, nil },
	})
	require.NoError(t, err)

	w, err := runner.RunTasks(ctx, "w1", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, model.WaveProgress{Total: 2}, w.Progress)
	assert.Equal(t, model.WaveStatusInProgress, w.Status)

	require.Len(t, disp.reqs, 1)
	assert.Equal(t, "t-a", disp.reqs[0].TargetID)

	task, err := repo.GetTask(ctx, "w1", "a")
	require.NoError(t, err)
	assert.Equal(t, "t-a", task.TargetID)
	assert.Equal(t, model.TaskStatusInProgress, task.Status)
	assert.Empty(t, task.Error)
	prov.AssertExpectations(t)
}

func TestRunnerErrors(t *testing.T) {
	tests := map[string]struct {
		settings      settingsFunc
		sourceIDs     []string
		expErr        error
		expWaveStatus model.WaveStatus
		expTaskStatus model.TaskStatus
	}{
		"Missing credentials should fail the wave with a configuration error.": {
			settings: func() (model.Settings, error) {
				return model.Settings{WorkerURL: "http://worker"}, nil
			},
			expErr:        model.ErrConfiguration,
			expWaveStatus: model.WaveStatusError,
			expTaskStatus: model.TaskStatusError,
		},

		"Settings that can't be loaded should fail the wave.": {
			settings: func() (model.Settings, error) {
				return model.Settings{}, fmt.Errorf("broken yaml: %w", model.ErrConfiguration)
			},
			expErr:        model.ErrConfiguration,
			expWaveStatus: model.WaveStatusError,
			expTaskStatus: model.TaskStatusError,
		},

		"Running a task that is not a member should fail.": {
			settings:      validSettings,
			sourceIDs:     []string{"missing"},
			expErr:        model.ErrNotFound,
			expWaveStatus: model.WaveStatusPending,
			expTaskStatus: model.TaskStatusPending,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := newRepo(t)
			createWave(t, repo, "a")

			disp := &fakeDispatcher{ack: ackInProgress}
			runner, err := wave.NewRunner(wave.RunnerConfig{
				Repository:    repo,
				Settings:      test.settings,
				NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return disp, nil },
			})
			require.NoError(err)

			if test.sourceIDs != nil {
				_, err = runner.RunTasks(context.Background(), "w1", test.sourceIDs)
			} else {
				_, err = runner.RunWave(context.Background(), "w1")
			}
			assert.ErrorIs(err, test.expErr)
			assert.Empty(disp.reqs)
			assert.Equal(test.expErr == model.ErrConfiguration, wave.IsFatal(err))

			w, err := repo.GetWave(context.Background(), "w1")
			require.NoError(err)
			assert.Equal(test.expWaveStatus, w.Status)
			task, err := repo.GetTask(context.Background(), "w1", "a")
			require.NoError(err)
			assert.Equal(test.expTaskStatus, task.Status)
			if test.expTaskStatus == model.TaskStatusError {
				assert.Contains(task.Error, "wave could not be launched")
			}
		})
	}
}

type runnerFunc func(ctx context.Context, waveID string) (*model.Wave, error)

func (r runnerFunc) RunWave(ctx context.Context, waveID string) (*model.Wave, error) {
	return r(ctx, waveID)
}

func TestExecutorRunsInBackground(t *testing.T) {
	var mu sync.Mutex
	var got []string
	release := make(chan struct{})

	exec, err := wave.NewExecutor(wave.ExecutorConfig{
		Runner: runnerFunc(func(ctx context.Context, waveID string) (*model.Wave, error) {
			<-release
			mu.Lock()
			got = append(got, waveID)
			mu.Unlock()
			if waveID == "boom" {
				panic("boom")
			}
			return &model.Wave{ID: waveID, Status: model.WaveStatusInProgress}, nil
		}),
	})
	require.NoError(t, err)

	// Go must not block on the run.
	exec.Go("w1")
	exec.Go("boom")
	close(release)
	exec.Wait()

	assert.ElementsMatch(t, []string{"w1", "boom"}, got)
}

func TestWaveLifecycleWithMonitoring(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	createWave(t, repo, "a", "b", "c")

	prov := &provisionmock.MockProvisioner{}
	prov.On("ResolveOrCreateProject", mock.Anything, "a", "ws-1").Once().Return("t-a", nil)
	prov.On("ResolveOrCreateProject", mock.Anything, "b", "ws-1").Once().Return("t-b", nil)
	prov.On("ResolveOrCreateProject", mock.Anything, "c", "ws-1").Once().Return("", fmt.Errorf("quota exceeded: %w", model.ErrProvisioning))

	runner, err := wave.NewRunner(wave.RunnerConfig{
		Repository:    repo,
		Settings:      settingsFunc(validSettings),
		Provisioner:   prov,
		NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return &fakeDispatcher{ack: ackInProgress}, nil },
	})
	require.NoError(t, err)

	w, err := runner.RunWave(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, model.WaveProgress{Total: 3, Failed: 1}, w.Progress)
	require.Equal(t, model.WaveStatusInProgress, w.Status)

	// Both workers finished and removed their locks, only their logs remain.
	logDir := t.TempDir()
	for _, id := range []string{"a", "b"} {
		path := conventions.LogFilePath(logDir, id, "t-"+id)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("copying items\nMigration completed successfully\n"), 0o644))
	}

	sup, err := supervisor.New(supervisor.Config{
		Repository: repo,
		Probes:     []process.LivenessProbe{},
		LockDir:    t.TempDir(),
		CacheDir:   t.TempDir(),
		LogDir:     logDir,
	})
	require.NoError(t, err)

	svc, err := wavestatus.NewService(wavestatus.ServiceConfig{Repository: repo, Supervisor: sup})
	require.NoError(t, err)

	resp, err := svc.Run(ctx, wavestatus.Request{WaveID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, model.WaveProgress{Total: 3, Completed: 2, Failed: 1}, resp.Wave.Progress)
	assert.Equal(t, model.WaveStatusError, resp.Wave.Status)

	stored, err := repo.GetWave(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.WaveProgress{Total: 3, Completed: 2, Failed: 1}, stored.Progress)
	assert.Equal(t, model.WaveStatusError, stored.Status)

	tasks, err := repo.GetTasksForWave(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, model.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, model.TaskStatusCompleted, tasks[1].Status)
	assert.Equal(t, model.TaskStatusError, tasks[2].Status)
	prov.AssertExpectations(t)
}
