package wavecreate

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
	"github.com/slok/wavemig/internal/provision"
	"github.com/slok/wavemig/internal/storage"
)

// WaveExecutor runs waves in the background.
type WaveExecutor interface {
	Go(waveID string)
}

// SettingsLoader loads the launch settings.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
}

// ServiceConfig is the configuration for the wave create service.
type ServiceConfig struct {
	Repository  storage.Repository
	Settings    SettingsLoader
	Provisioner provision.Provisioner
	Executor    WaveExecutor
	Logger      log.Logger
	// IDGenerator defaults to ULIDs.
	IDGenerator func() string
	Now         func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Settings == nil {
		return fmt.Errorf("settings loader is required")
	}

	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}

	if c.Provisioner == nil {
		c.Provisioner = provision.Disabled
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.wavecreate"})

	if c.IDGenerator == nil {
		c.IDGenerator = func() string { return ulid.Make().String() }
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	return nil
}

// Service creates waves and launches them.
type Service struct {
	repo        storage.Repository
	settings    SettingsLoader
	provisioner provision.Provisioner
	executor    WaveExecutor
	logger      log.Logger
	newID       func() string
	now         func() time.Time
}

// NewService creates a new wave create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:        cfg.Repository,
		settings:    cfg.Settings,
		provisioner: cfg.Provisioner,
		executor:    cfg.Executor,
		logger:      cfg.Logger,
		newID:       cfg.IDGenerator,
		now:         cfg.Now,
	}, nil
}

// Request represents the wave creation parameters.
type Request struct {
	Name string
	// WorkspaceID is the target workspace, when missing it's resolved (or created) by
	// WorkspaceName, or by the wave name if that is missing too.
	WorkspaceID      string
	WorkspaceName    string
	Members          []string
	ConcurrencyLimit int
	ManualMode       bool
}

// Run creates the wave with one pending task per member and starts it in the background.
// The returned wave is already in progress.
func (s *Service) Run(ctx context.Context, req Request) (*model.Wave, error) {
	now := s.now().UTC()
	wave := model.Wave{
		ID:               s.newID(),
		Name:             req.Name,
		WorkspaceID:      req.WorkspaceID,
		Members:          req.Members,
		ConcurrencyLimit: req.ConcurrencyLimit,
		ManualMode:       req.ManualMode,
		Status:           model.WaveStatusPending,
		Progress:         model.WaveProgress{Total: len(req.Members)},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if wave.ConcurrencyLimit == 0 {
		wave.ConcurrencyLimit = 1
	}

	// Check before provisioning so invalid requests don't create workspaces.
	if err := wave.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wave: %w", err)
	}

	// A wave that can't be launched is refused instead of being left pending.
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load settings: %w", err)
	}
	if err := settings.ValidateCredentials(); err != nil {
		return nil, err
	}

	if wave.WorkspaceID == "" {
		name := req.WorkspaceName
		if name == "" {
			name = req.Name
		}

		id, err := s.provisioner.ResolveOrCreateWorkspace(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("could not resolve workspace %q: %w", name, err)
		}
		wave.WorkspaceID = id
	}

	if err := s.repo.CreateWave(ctx, wave); err != nil {
		return nil, fmt.Errorf("could not create wave: %w", err)
	}

	s.logger.Infof("Wave %s (%s) created with %d tasks", wave.ID, wave.Name, len(wave.Members))

	s.executor.Go(wave.ID)
	wave.Status = model.WaveStatusInProgress

	return &wave, nil
}
