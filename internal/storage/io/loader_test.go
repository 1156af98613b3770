package io_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/model"
	storageio "github.com/slok/wavemig/internal/storage/io"
)

func TestSettingsYAMLRepositoryLoadSettings(t *testing.T) {
	defaults := model.Settings{
		LockDir:        "/data/locks",
		CacheDir:       "/data/cache",
		LogDir:         "/data/logs",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		StaleAfter:     10 * time.Minute,
		Provisioning:   model.ProvisioningSettings{Attempts: 3, Backoff: time.Second},
	}

	tests := map[string]struct {
		fs          fstest.MapFS
		expSettings model.Settings
		expErr      error
	}{
		"A missing file should return the defaults.": {
			fs:          fstest.MapFS{},
			expSettings: defaults,
		},

		"A complete file should override the defaults.": {
			fs: fstest.MapFS{
				"settings.yaml": &fstest.MapFile{Data: []byte(`
worker_url: http://worker:8080
site_id: site-1
secret: s3cr3t
webhook_url: http://me/api/v1/webhook/result
extra_params:
  mode: full
lock_dir: /tmp/locks
success_markers:
  - "all rows copied"
request_timeout: 30s
stale_after: 5m
provisioning:
  url: http://target/api
  token: tkn
  attempts: 5
  backoff: 200ms
`)},
			},
			expSettings: model.Settings{
				WorkerURL:      "http://worker:8080",
				SiteID:         "site-1",
				Secret:         "s3cr3t",
				WebhookURL:     "http://me/api/v1/webhook/result",
				ExtraParams:    map[string]string{"mode": "full"},
				LockDir:        "/tmp/locks",
				CacheDir:       "/data/cache",
				LogDir:         "/data/logs",
				SuccessMarkers: []string{"all rows copied"},
				ConnectTimeout: 5 * time.Second,
				RequestTimeout: 30 * time.Second,
				StaleAfter:     5 * time.Minute,
				Provisioning: model.ProvisioningSettings{
					URL:      "http://target/api",
					Token:    "tkn",
					Attempts: 5,
					Backoff:  200 * time.Millisecond,
				},
			},
		},

		"Invalid YAML should fail with a configuration error.": {
			fs: fstest.MapFS{
				"settings.yaml": &fstest.MapFile{Data: []byte(`worker_url: [`)},
			},
			expErr: model.ErrConfiguration,
		},

		"Invalid durations should fail with a configuration error.": {
			fs: fstest.MapFS{
				"settings.yaml": &fstest.MapFile{Data: []byte(`request_timeout: soon`)},
			},
			expErr: model.ErrConfiguration,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := storageio.NewSettingsYAMLRepository(test.fs, "settings.yaml", defaults)
			got, err := repo.LoadSettings(context.Background())

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			assert.Equal(test.expSettings, got)
		})
	}
}

func TestWaveYAMLRepositoryGetWaveDefinition(t *testing.T) {
	tests := map[string]struct {
		data   string
		expDef model.WaveDefinition
		expErr bool
	}{
		"A valid definition should load.": {
			data: `
name: wave-1
workspace_name: marketing
concurrency_limit: 3
members:
  - src-1
  - src-2
`,
			expDef: model.WaveDefinition{
				Name:             "wave-1",
				WorkspaceName:    "marketing",
				ConcurrencyLimit: 3,
				Members:          []string{"src-1", "src-2"},
			},
		},

		"A definition without name should fail.": {
			data:   "members: [a]",
			expErr: true,
		},

		"A definition without members should fail.": {
			data:   "name: wave-1",
			expErr: true,
		},

		"A negative concurrency limit should fail.": {
			data:   "name: w\nconcurrency_limit: -1\nmembers: [a]",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			fs := fstest.MapFS{"wave.yaml": &fstest.MapFile{Data: []byte(test.data)}}
			repo := storageio.NewWaveYAMLRepository(fs)
			got, err := repo.GetWaveDefinition(context.Background(), "wave.yaml")

			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expDef, got)
		})
	}
}
