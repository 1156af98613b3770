package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/process"
	"github.com/slok/wavemig/internal/provision"
	storageio "github.com/slok/wavemig/internal/storage/io"
	"github.com/slok/wavemig/internal/storage/sqlite"
	"github.com/slok/wavemig/internal/supervisor"
	"github.com/slok/wavemig/internal/wave"
)

// engine has the shared components every command uses.
type engine struct {
	repo        *sqlite.Repository
	settings    *storageio.SettingsYAMLRepository
	provisioner provision.Provisioner
	supervisor  *supervisor.Supervisor
	runner      *wave.Runner
	dispatchers wave.DispatcherFactory
}

// newEngine wires the storage, settings, provisioning, supervision and wave runner.
func newEngine(ctx context.Context, root RootCommand, rec metrics.Recorder) (*engine, error) {
	logger := root.Logger
	if rec == nil {
		rec = metrics.Noop
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: root.dbPath(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	settingsPath := root.settingsPath()
	settingsRepo := storageio.NewSettingsYAMLRepository(os.DirFS(filepath.Dir(settingsPath)), filepath.Base(settingsPath), defaultSettings(root.DataDir))
	current, err := settingsRepo.LoadSettings(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not load settings: %w", err)
	}

	var provisioner provision.Provisioner = provision.Disabled
	if current.Provisioning.URL != "" {
		p, err := provision.NewHTTPProvisioner(provision.HTTPProvisionerConfig{
			BaseURL:  current.Provisioning.URL,
			Token:    current.Provisioning.Token,
			Attempts: current.Provisioning.Attempts,
			Backoff:  current.Provisioning.Backoff,
			Logger:   logger,
		})
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("could not create provisioner: %w", err)
		}
		provisioner = p
	} else {
		logger.Warningf("No provisioning API configured, tasks without target can't be launched")
	}
	provisioner = provision.NewLogProvisioner(logger, provisioner)

	sup, err := supervisor.New(supervisor.Config{
		Repository:     repo,
		Table:          process.NewProcFS(""),
		LockDir:        current.LockDir,
		CacheDir:       current.CacheDir,
		LogDir:         current.LogDir,
		StaleAfter:     current.StaleAfter,
		SuccessMarkers: current.SuccessMarkers,
		Metrics:        rec,
		Logger:         logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create supervisor: %w", err)
	}

	dispatchers := wave.NewHTTPDispatcherFactory(rec, logger)
	runner, err := wave.NewRunner(wave.RunnerConfig{
		Repository:    repo,
		Settings:      settingsRepo,
		Provisioner:   provisioner,
		NewDispatcher: dispatchers,
		Metrics:       rec,
		Logger:        logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create wave runner: %w", err)
	}

	return &engine{
		repo:        repo,
		settings:    settingsRepo,
		provisioner: provisioner,
		supervisor:  sup,
		runner:      runner,
		dispatchers: dispatchers,
	}, nil
}

func (e *engine) Close() error { return e.repo.Close() }

// defaultSettings are the settings used for everything the settings file doesn't set.
func defaultSettings(dataDir string) model.Settings {
	return model.Settings{
		LockDir:        filepath.Join(dataDir, "locks"),
		CacheDir:       filepath.Join(dataDir, "cache"),
		LogDir:         filepath.Join(dataDir, "logs"),
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		StaleAfter:     10 * time.Minute,
		Provisioning: model.ProvisioningSettings{
			Attempts: 3,
			Backoff:  500 * time.Millisecond,
		},
	}
}
