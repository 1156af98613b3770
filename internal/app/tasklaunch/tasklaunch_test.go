package tasklaunch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/app/tasklaunch"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/provision/provisionmock"
	"github.com/slok/wavemig/internal/storage/storagemock"
	"github.com/slok/wavemig/internal/wave"
)

type settingsFunc func() (model.Settings, error)

func (s settingsFunc) LoadSettings(context.Context) (model.Settings, error) { return s() }

type fakeDispatcher struct {
	reqs []model.DispatchRequest
}

func (f *fakeDispatcher) DispatchBatch(_ context.Context, reqs []model.DispatchRequest, _ int) <-chan model.DispatchResult {
	f.reqs = append(f.reqs, reqs...)
	ch := make(chan model.DispatchResult, len(reqs))
	for _, r := range reqs {
		ch <- model.DispatchResult{SourceID: r.SourceID, TargetID: r.TargetID, Success: true, Status: model.TaskStatusInProgress, HTTPCode: 200}
	}
	close(ch)
	return ch
}

func TestService_Run(t *testing.T) {
	launched := &model.MigrationTask{SourceID: "a", TargetID: "ta", Status: model.TaskStatusInProgress}
	launchUpdate := model.TaskUpdate{
		SourceID: "a",
		TargetID: "ta",
		Status:   model.TaskStatusInProgress,
		Result:   map[string]any{"dispatch": map[string]any{"success": true, "http_code": 200}},
	}

	tests := map[string]struct {
		settings settingsFunc
		mock     func(r *storagemock.MockRepository, p *provisionmock.MockProvisioner)
		req      tasklaunch.Request
		expReqs  []model.DispatchRequest
		expErr   error
	}{
		"A new task without target should be provisioned, created and dispatched.": {
			mock: func(r *storagemock.MockRepository, p *provisionmock.MockProvisioner) {
				r.On("GetTask", mock.Anything, "", "a").Once().Return(nil, model.ErrNotFound)
				p.On("ResolveOrCreateProject", mock.Anything, "a", "ws-1").Once().Return("ta", nil)
				r.On("CreateTask", mock.Anything, model.MigrationTask{SourceID: "a", TargetID: "ta", Status: model.TaskStatusPending}).Once().Return(nil)
				r.On("SetTaskStatus", mock.Anything, launchUpdate).Once().Return(nil)
				r.On("GetTask", mock.Anything, "", "a").Once().Return(launched, nil)
			},
			req:     tasklaunch.Request{SourceID: "a", WorkspaceID: "ws-1"},
			expReqs: []model.DispatchRequest{{SourceID: "a", TargetID: "ta"}},
		},

		"An existing task should be relaunched with its target.": {
			mock: func(r *storagemock.MockRepository, p *provisionmock.MockProvisioner) {
				r.On("GetTask", mock.Anything, "", "a").Once().Return(&model.MigrationTask{SourceID: "a", TargetID: "ta", Status: model.TaskStatusError}, nil)
				r.On("SetTaskStatus", mock.Anything, launchUpdate).Once().Return(nil)
				r.On("GetTask", mock.Anything, "", "a").Once().Return(launched, nil)
			},
			req:     tasklaunch.Request{SourceID: "a", Params: map[string]string{"full": "true"}},
			expReqs: []model.DispatchRequest{{SourceID: "a", TargetID: "ta", Params: map[string]string{"full": "true"}}},
		},

		"Missing credentials should fail without dispatching.": {
			settings: func() (model.Settings, error) { return model.Settings{}, nil },
			mock:     func(r *storagemock.MockRepository, p *provisionmock.MockProvisioner) {},
			req:      tasklaunch.Request{SourceID: "a"},
			expErr:   model.ErrConfiguration,
		},

		"A missing source should fail.": {
			mock:   func(r *storagemock.MockRepository, p *provisionmock.MockProvisioner) {},
			req:    tasklaunch.Request{},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := &storagemock.MockRepository{}
			prov := &provisionmock.MockProvisioner{}
			test.mock(repo, prov)
			disp := &fakeDispatcher{}

			settings := test.settings
			if settings == nil {
				settings = func() (model.Settings, error) {
					return model.Settings{WorkerURL: "http://worker", SiteID: "site", Secret: "secret"}, nil
				}
			}

			svc, err := tasklaunch.NewService(tasklaunch.ServiceConfig{
				Repository:    repo,
				Settings:      settings,
				Provisioner:   prov,
				NewDispatcher: func(model.Settings) (wave.BatchDispatcher, error) { return disp, nil },
			})
			require.NoError(err)

			task, err := svc.Run(context.Background(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Empty(disp.reqs)
			} else if assert.NoError(err) {
				assert.Equal(launched, task)
				assert.Equal(test.expReqs, disp.reqs)
			}
			repo.AssertExpectations(t)
			prov.AssertExpectations(t)
		})
	}
}
