package taskrestart_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/app/taskrestart"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage/storagemock"
)

type fakeSupervisor struct {
	res model.ProbeResult
}

func (f fakeSupervisor) ProbeTask(context.Context, model.MigrationTask) (*model.ProbeResult, error) {
	return &f.res, nil
}

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) RunTasks(_ context.Context, waveID string, sourceIDs []string) (*model.Wave, error) {
	f.calls = append(f.calls, sourceIDs)
	return &model.Wave{ID: waveID, Status: model.WaveStatusInProgress}, nil
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		mock     func(m *storagemock.MockRepository)
		probe    model.ProbeResult
		expCalls [][]string
		expTask  model.MigrationTask
		expErr   error
	}{
		"A failed task with a dead worker should be relaunched.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(&model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusError}, nil)
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(&model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusInProgress}, nil)
			},
			probe:    model.ProbeResult{Reason: "no lock file"},
			expCalls: [][]string{{"a"}},
			expTask:  model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusInProgress},
		},

		"A task without target should be relaunched without probing.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(&model.MigrationTask{SourceID: "a", WaveID: "w1", Status: model.TaskStatusError}, nil)
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(&model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusInProgress}, nil)
			},
			probe:    model.ProbeResult{Running: true},
			expCalls: [][]string{{"a"}},
			expTask:  model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusInProgress},
		},

		"A task with an alive worker should not be restarted.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(&model.MigrationTask{SourceID: "a", WaveID: "w1", TargetID: "ta", Status: model.TaskStatusInProgress}, nil)
			},
			probe:  model.ProbeResult{Running: true, PID: 1234},
			expErr: model.ErrAlreadyExists,
		},

		"A missing task should fail.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "w1", "a").Once().Return(nil, model.ErrNotFound)
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := &storagemock.MockRepository{}
			test.mock(repo)
			runner := &fakeRunner{}

			svc, err := taskrestart.NewService(taskrestart.ServiceConfig{
				Repository: repo,
				Supervisor: fakeSupervisor{res: test.probe},
				Runner:     runner,
			})
			require.NoError(err)

			resp, err := svc.Run(context.Background(), taskrestart.Request{WaveID: "w1", SourceID: "a"})
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Empty(runner.calls)
			} else if assert.NoError(err) {
				assert.Equal(test.expTask, resp.Task)
				assert.Equal(test.expCalls, runner.calls)
				assert.Equal(model.WaveStatusInProgress, resp.Wave.Status)
			}
			repo.AssertExpectations(t)
		})
	}
}
