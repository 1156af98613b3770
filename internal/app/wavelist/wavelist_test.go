package wavelist_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/app/wavelist"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/storage/storagemock"
)

func TestService_Run(t *testing.T) {
	waves := []model.Wave{
		{ID: "w3", Name: "third", Status: model.WaveStatusInProgress},
		{ID: "w2", Name: "second", Status: model.WaveStatusCompleted},
		{ID: "w1", Name: "first", Status: model.WaveStatusInProgress},
	}

	tests := map[string]struct {
		mock     func(m *storagemock.MockRepository)
		req      wavelist.Request
		expWaves []model.Wave
		expErr   bool
	}{
		"Listing without filter should return all the waves.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListWaves", mock.Anything).Once().Return(waves, nil)
			},
			expWaves: waves,
		},

		"Listing with a status filter should return only the matching waves.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListWaves", mock.Anything).Once().Return(waves, nil)
			},
			req:      wavelist.Request{Status: model.WaveStatusInProgress},
			expWaves: []model.Wave{waves[0], waves[2]},
		},

		"Listing with no matches should return an empty list.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListWaves", mock.Anything).Once().Return(waves, nil)
			},
			req:      wavelist.Request{Status: model.WaveStatusError},
			expWaves: []model.Wave{},
		},

		"A repository error should fail.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListWaves", mock.Anything).Once().Return(nil, fmt.Errorf("something"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := &storagemock.MockRepository{}
			test.mock(repo)

			svc, err := wavelist.NewService(wavelist.ServiceConfig{Repository: repo})
			require.NoError(err)

			got, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expWaves, got)
			}
			repo.AssertExpectations(t)
		})
	}
}
