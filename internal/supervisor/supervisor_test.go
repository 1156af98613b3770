package supervisor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/conventions"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
	"github.com/slok/wavemig/internal/storage/storagemock"
	"github.com/slok/wavemig/internal/supervisor"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProc struct {
	alive      bool
	ignoreTerm bool
	cmdline    []string
}

type fakeTable struct {
	mu      sync.Mutex
	procs   map[int]*fakeProc
	signals []string
}

func (f *fakeTable) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	return ok && p.alive
}

func (f *fakeTable) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("%d:%s", pid, sig))
	p, ok := f.procs[pid]
	if !ok || !p.alive {
		return fmt.Errorf("no such process")
	}
	if sig == syscall.SIGKILL || !p.ignoreTerm {
		p.alive = false
	}
	return nil
}

func (f *fakeTable) PIDs() ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pids []int
	for pid := range f.procs {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (f *fakeTable) Cmdline(pid int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return nil, os.ErrNotExist
	}
	return p.cmdline, nil
}

func (f *fakeTable) OpenFiles(pid int) ([]string, error) { return nil, nil }

type dirs struct {
	lock, cache, log string
}

func newDirs(t *testing.T) dirs {
	base := t.TempDir()
	d := dirs{
		lock:  filepath.Join(base, "locks"),
		cache: filepath.Join(base, "cache"),
		log:   filepath.Join(base, "logs"),
	}
	for _, p := range []string{d.lock, d.cache, d.log} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	return d
}

func writeLock(t *testing.T, d dirs, content string, age time.Duration) string {
	path := conventions.LockFilePath(d.lock, "src", "tgt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newSupervisor(t *testing.T, d dirs, repo *storagemock.MockRepository, table *fakeTable) *supervisor.Supervisor {
	svc, err := supervisor.New(supervisor.Config{
		Repository: repo,
		Table:      table,
		LockDir:    d.lock,
		CacheDir:   d.cache,
		LogDir:     d.log,
		Now:        func() time.Time { return now },
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	return svc
}

func taskWith(status model.TaskStatus) *model.MigrationTask {
	return &model.MigrationTask{SourceID: "src", TargetID: "tgt", WaveID: "w1", Status: status}
}

func TestSupervisorProbe(t *testing.T) {
	tests := map[string]struct {
		lock       string
		lockAge    time.Duration
		status     model.TaskStatus
		procs      map[int]*fakeProc
		expRunning bool
		expPID     int
		expRecon   bool
		expNoAge   bool
	}{
		"Without lock the worker is never running.": {
			status:   model.TaskStatusInProgress,
			procs:    map[int]*fakeProc{10: {alive: true, cmdline: []string{"worker", "src", "tgt"}}},
			expNoAge: true,
		},

		"A live pid on the lock means running.": {
			lock:       `{"pid": 10, "stage": "pages"}`,
			lockAge:    time.Hour,
			status:     model.TaskStatusInProgress,
			procs:      map[int]*fakeProc{10: {alive: true}},
			expRunning: true,
			expPID:     10,
		},

		"A dead pid on the lock means not running and reconcile.": {
			lock:     `{"pid": 10}`,
			lockAge:  time.Minute,
			status:   model.TaskStatusInProgress,
			procs:    map[int]*fakeProc{10: {alive: false}},
			expPID:   10,
			expRecon: true,
		},

		"A fresh lock without pid of an in progress task means running.": {
			lock:       `{"stage": "start"}`,
			lockAge:    time.Minute,
			status:     model.TaskStatusInProgress,
			procs:      map[int]*fakeProc{},
			expRunning: true,
		},

		"A stale lock found by OS discovery means running.": {
			lock:       `{}`,
			lockAge:    time.Hour,
			status:     model.TaskStatusInProgress,
			procs:      map[int]*fakeProc{33: {alive: true, cmdline: []string{"python", "migrate.py", "src", "tgt"}}},
			expRunning: true,
			expPID:     33,
		},

		"A stale lock without process means not running and reconcile.": {
			lock:     `{}`,
			lockAge:  11 * time.Minute,
			status:   model.TaskStatusInProgress,
			procs:    map[int]*fakeProc{},
			expRecon: true,
		},

		"A fresh lock of a pending task without process is in startup grace.": {
			lock:       `{}`,
			lockAge:    time.Minute,
			status:     model.TaskStatusPending,
			procs:      map[int]*fakeProc{},
			expRunning: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			d := newDirs(t)
			if test.lock != "" {
				writeLock(t, d, test.lock, test.lockAge)
			}
			repo := &storagemock.MockRepository{}
			repo.On("FindTaskByProjects", mock.Anything, "src", "tgt").Once().Return(taskWith(test.status), nil)

			svc := newSupervisor(t, d, repo, &fakeTable{procs: test.procs})
			res, err := svc.Probe(context.Background(), "src", "tgt")
			require.NoError(err)

			repo.AssertExpectations(t)
			assert.Equal(test.expRunning, res.Running)
			assert.Equal(test.expPID, res.PID)
			assert.Equal(test.expRecon, res.ShouldReconcile)
			assert.NotEmpty(res.Reason)
			if test.expNoAge {
				assert.Nil(res.LockAgeSeconds)
			} else {
				require.NotNil(res.LockAgeSeconds)
				assert.Equal(int(test.lockAge.Seconds()), *res.LockAgeSeconds)
			}
		})
	}
}

func TestSupervisorProbeTaskWithoutTarget(t *testing.T) {
	svc := newSupervisor(t, newDirs(t), &storagemock.MockRepository{}, &fakeTable{})

	res, err := svc.ProbeTask(context.Background(), model.MigrationTask{SourceID: "src", Status: model.TaskStatusPending})
	require.NoError(t, err)
	assert.False(t, res.Running)
}

func TestSupervisorReconcile(t *testing.T) {
	tests := map[string]struct {
		task      model.MigrationTask
		log       string
		mock      func(m *storagemock.MockRepository)
		expStatus model.TaskStatus
		expErrMsg string
	}{
		"A task not in progress is left as is.": {
			task:      *taskWith(model.TaskStatusCompleted),
			mock:      func(m *storagemock.MockRepository) {},
			expStatus: model.TaskStatusCompleted,
		},

		"A success flag on the result completes the task.": {
			task: func() model.MigrationTask {
				t := *taskWith(model.TaskStatusInProgress)
				t.Result = map[string]any{"success": true}
				return t
			}(),
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, model.TaskUpdate{SourceID: "src", WaveID: "w1", TargetID: "tgt", Status: model.TaskStatusCompleted, FromStatus: model.TaskStatusInProgress}).Once().Return(nil)
			},
			expStatus: model.TaskStatusCompleted,
		},

		"A success marker on the worker log completes the task.": {
			task: *taskWith(model.TaskStatusInProgress),
			log:  "starting\npages 10/10\nMigration completed successfully\n",
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, model.TaskUpdate{SourceID: "src", WaveID: "w1", TargetID: "tgt", Status: model.TaskStatusCompleted, FromStatus: model.TaskStatusInProgress}).Once().Return(nil)
			},
			expStatus: model.TaskStatusCompleted,
		},

		"Without success markers the task fails.": {
			task: *taskWith(model.TaskStatusInProgress),
			log:  "starting\npages 3/10\n",
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, model.TaskUpdate{
					SourceID: "src", WaveID: "w1", TargetID: "tgt",
					Status:     model.TaskStatusError,
					Error:      "worker process ended without reporting completion",
					FromStatus: model.TaskStatusInProgress,
				}).Once().Return(nil)
			},
			expStatus: model.TaskStatusError,
			expErrMsg: "worker process ended without reporting completion",
		},

		"A task whose result arrived meanwhile keeps the stored status.": {
			task: *taskWith(model.TaskStatusInProgress),
			log:  "starting\n",
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, mock.Anything).Once().Return(fmt.Errorf("task src is completed: %w", model.ErrConflict))
				m.On("GetTask", mock.Anything, "w1", "src").Once().Return(taskWith(model.TaskStatusCompleted), nil)
			},
			expStatus: model.TaskStatusCompleted,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			d := newDirs(t)
			if test.log != "" {
				require.NoError(os.WriteFile(conventions.LogFilePath(d.log, "src", "tgt"), []byte(test.log), 0o644))
			}
			repo := &storagemock.MockRepository{}
			test.mock(repo)

			svc := newSupervisor(t, d, repo, &fakeTable{})
			got, err := svc.Reconcile(context.Background(), test.task)
			require.NoError(err)

			repo.AssertExpectations(t)
			assert.Equal(test.expStatus, got.Status)
			assert.Equal(test.expErrMsg, got.Error)
		})
	}
}

func TestSupervisorKill(t *testing.T) {
	tests := map[string]struct {
		lock       string
		force      bool
		status     model.TaskStatus
		procs      map[int]*fakeProc
		mock       func(m *storagemock.MockRepository)
		expResult  model.KillResult
		expSignals []string
	}{
		"Without process nothing is killed.": {
			status:    model.TaskStatusInProgress,
			procs:     map[int]*fakeProc{},
			mock:      func(m *storagemock.MockRepository) {},
			expResult: model.KillResult{},
		},

		"A worker that honors SIGTERM is terminated gracefully.": {
			lock:   `{"pid": 10}`,
			status: model.TaskStatusInProgress,
			procs:  map[int]*fakeProc{10: {alive: true}},
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, model.TaskUpdate{
					SourceID: "src", WaveID: "w1", TargetID: "tgt",
					Status:     model.TaskStatusError,
					Error:      "worker process terminated manually",
					FromStatus: model.TaskStatusInProgress,
				}).Once().Return(nil)
			},
			expResult:  model.KillResult{Killed: true, PID: 10},
			expSignals: []string{"10:terminated"},
		},

		"A worker ignoring SIGTERM is escalated to SIGKILL.": {
			lock:       `{"pid": 10}`,
			status:     model.TaskStatusCompleted,
			procs:      map[int]*fakeProc{10: {alive: true, ignoreTerm: true}},
			mock:       func(m *storagemock.MockRepository) {},
			expResult:  model.KillResult{Killed: true, PID: 10},
			expSignals: []string{"10:terminated", "10:killed"},
		},

		"Force kill sends SIGKILL directly.": {
			lock:       `{"pid": 10}`,
			force:      true,
			status:     model.TaskStatusPending,
			procs:      map[int]*fakeProc{10: {alive: true}},
			mock:       func(m *storagemock.MockRepository) {},
			expResult:  model.KillResult{Killed: true, PID: 10},
			expSignals: []string{"10:killed"},
		},

		"Without lock the worker is searched on the process table.": {
			status: model.TaskStatusInProgress,
			procs:  map[int]*fakeProc{42: {alive: true, cmdline: []string{"worker", "--src", "src", "--tgt", "tgt"}}},
			mock: func(m *storagemock.MockRepository) {
				m.On("SetTaskStatus", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expResult:  model.KillResult{Killed: true, PID: 42},
			expSignals: []string{"42:terminated"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			d := newDirs(t)
			if test.lock != "" {
				writeLock(t, d, test.lock, time.Minute)
			}
			repo := &storagemock.MockRepository{}
			repo.On("FindTaskByProjects", mock.Anything, "src", "tgt").Return(taskWith(test.status), nil)
			test.mock(repo)

			table := &fakeTable{procs: test.procs}
			svc := newSupervisor(t, d, repo, table)
			res, err := svc.Kill(context.Background(), "src", "tgt", test.force)
			require.NoError(err)

			repo.AssertExpectations(t)
			assert.Equal(test.expResult, *res)
			assert.Equal(test.expSignals, table.signals)
		})
	}
}

func TestSupervisorHardResetNoop(t *testing.T) {
	d := newDirs(t)
	repo := &storagemock.MockRepository{}
	repo.On("FindTaskByProjects", mock.Anything, "src", "tgt").Once().Return(nil, fmt.Errorf("missing: %w", model.ErrNotFound))

	svc := newSupervisor(t, d, repo, &fakeTable{procs: map[int]*fakeProc{}})
	summary, err := svc.HardReset(context.Background(), "src", "tgt")
	require.NoError(t, err)

	repo.AssertExpectations(t)
	assert.Equal(t, model.ResetSummary{}, *summary)
}

func TestSupervisorHardReset(t *testing.T) {
	d := newDirs(t)
	lockPath := writeLock(t, d, `{"pid": 10}`, time.Minute)
	cachePath := conventions.CacheFilePath(d.cache, "src", "tgt")
	require.NoError(t, os.WriteFile(cachePath, []byte(`{}`), 0o644))

	repo := &storagemock.MockRepository{}
	repo.On("FindTaskByProjects", mock.Anything, "src", "tgt").Once().Return(taskWith(model.TaskStatusError), nil)
	repo.On("SetTaskStatus", mock.Anything, model.TaskUpdate{SourceID: "src", WaveID: "w1", TargetID: "tgt", Status: model.TaskStatusPending}).Once().Return(nil)

	table := &fakeTable{procs: map[int]*fakeProc{
		10: {alive: true},
		11: {alive: true, ignoreTerm: true, cmdline: []string{"worker", "src", "tgt"}},
	}}
	svc := newSupervisor(t, d, repo, table)
	summary, err := svc.HardReset(context.Background(), "src", "tgt")
	require.NoError(t, err)

	repo.AssertExpectations(t)
	assert.True(t, summary.ProcessKilled)
	assert.ElementsMatch(t, []int{10, 11}, summary.KilledPIDs)
	assert.True(t, summary.LockRemoved)
	assert.True(t, summary.CacheRemoved)
	assert.True(t, summary.StatusReset)
	assert.Empty(t, summary.Errors)

	assert.NoFileExists(t, lockPath)
	assert.NoFileExists(t, cachePath)
}

func TestSupervisorHardResetCancelled(t *testing.T) {
	d := newDirs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newSupervisor(t, d, &storagemock.MockRepository{}, &fakeTable{procs: map[int]*fakeProc{1: {alive: true}}})
	_, err := svc.HardReset(ctx, "src", "tgt")
	assert.ErrorIs(t, err, context.Canceled)
}

var _ process.Table = &fakeTable{}
