package io

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/wavemig/internal/model"
)

// SettingsYAMLRepository loads the runtime settings from a YAML file.
type SettingsYAMLRepository struct {
	fs       fs.FS
	path     string
	defaults model.Settings
}

// NewSettingsYAMLRepository creates a new YAML settings repository. Values missing on the file
// are taken from defaults. A missing file is not an error, the defaults are returned.
func NewSettingsYAMLRepository(filesystem fs.FS, path string, defaults model.Settings) *SettingsYAMLRepository {
	return &SettingsYAMLRepository{fs: filesystem, path: path, defaults: defaults}
}

// LoadSettings loads the settings, it's read on every call so changes are picked without restarts.
func (r *SettingsYAMLRepository) LoadSettings(ctx context.Context) (model.Settings, error) {
	if ctx.Err() != nil {
		return model.Settings{}, ctx.Err()
	}

	data, err := fs.ReadFile(r.fs, r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r.defaults, nil
		}
		return model.Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	var s SettingsConfig
	if err := yaml.Unmarshal(data, &s); err != nil {
		return model.Settings{}, fmt.Errorf("parsing YAML: %w: %w", err, model.ErrConfiguration)
	}

	settings, err := s.toModel(r.defaults)
	if err != nil {
		return model.Settings{}, fmt.Errorf("invalid settings: %w: %w", err, model.ErrConfiguration)
	}

	return settings, nil
}

// SettingsConfig represents the YAML structure of the settings file.
type SettingsConfig struct {
	WorkerURL      string             `yaml:"worker_url"`
	SiteID         string             `yaml:"site_id"`
	Secret         string             `yaml:"secret"`
	WebhookURL     string             `yaml:"webhook_url"`
	ExtraParams    map[string]string  `yaml:"extra_params"`
	LockDir        string             `yaml:"lock_dir"`
	CacheDir       string             `yaml:"cache_dir"`
	LogDir         string             `yaml:"log_dir"`
	SuccessMarkers []string           `yaml:"success_markers"`
	ConnectTimeout string             `yaml:"connect_timeout"`
	RequestTimeout string             `yaml:"request_timeout"`
	StaleAfter     string             `yaml:"stale_after"`
	Provisioning   ProvisioningConfig `yaml:"provisioning"`
}

// ProvisioningConfig represents the YAML structure of the target platform API settings.
type ProvisioningConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

func (c SettingsConfig) toModel(defaults model.Settings) (model.Settings, error) {
	s := defaults
	setString(&s.WorkerURL, c.WorkerURL)
	setString(&s.SiteID, c.SiteID)
	setString(&s.Secret, c.Secret)
	setString(&s.WebhookURL, c.WebhookURL)
	setString(&s.LockDir, c.LockDir)
	setString(&s.CacheDir, c.CacheDir)
	setString(&s.LogDir, c.LogDir)
	setString(&s.Provisioning.URL, c.Provisioning.URL)
	setString(&s.Provisioning.Token, c.Provisioning.Token)

	if len(c.ExtraParams) > 0 {
		s.ExtraParams = c.ExtraParams
	}
	if len(c.SuccessMarkers) > 0 {
		s.SuccessMarkers = c.SuccessMarkers
	}

	if c.Provisioning.Attempts < 0 {
		return model.Settings{}, fmt.Errorf("provisioning attempts can't be negative, got: %d", c.Provisioning.Attempts)
	}
	if c.Provisioning.Attempts > 0 {
		s.Provisioning.Attempts = c.Provisioning.Attempts
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{name: "connect_timeout", value: c.ConnectTimeout, dst: &s.ConnectTimeout},
		{name: "request_timeout", value: c.RequestTimeout, dst: &s.RequestTimeout},
		{name: "stale_after", value: c.StaleAfter, dst: &s.StaleAfter},
		{name: "provisioning.backoff", value: c.Provisioning.Backoff, dst: &s.Provisioning.Backoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return model.Settings{}, fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return model.Settings{}, fmt.Errorf("%s can't be negative, got: %s", d.name, d.value)
		}
		*d.dst = v
	}

	return s, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// WaveYAMLRepository loads wave definitions from YAML files.
type WaveYAMLRepository struct {
	fs fs.FS
}

// NewWaveYAMLRepository creates a new YAML wave definition repository.
func NewWaveYAMLRepository(filesystem fs.FS) *WaveYAMLRepository {
	return &WaveYAMLRepository{fs: filesystem}
}

// GetWaveDefinition loads a wave definition from a YAML file and returns a validated domain model.
func (r *WaveYAMLRepository) GetWaveDefinition(ctx context.Context, path string) (model.WaveDefinition, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.WaveDefinition{}, fmt.Errorf("reading wave file: %w", err)
	}

	if ctx.Err() != nil {
		return model.WaveDefinition{}, ctx.Err()
	}

	var w WaveConfig
	if err := yaml.Unmarshal(data, &w); err != nil {
		return model.WaveDefinition{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := w.validate(); err != nil {
		return model.WaveDefinition{}, fmt.Errorf("invalid wave definition: %w: %w", err, model.ErrNotValid)
	}

	return w.toModel(), nil
}

// WaveConfig represents the YAML structure of a wave definition.
type WaveConfig struct {
	Name             string   `yaml:"name"`
	WorkspaceID      string   `yaml:"workspace_id"`
	WorkspaceName    string   `yaml:"workspace_name"`
	ConcurrencyLimit int      `yaml:"concurrency_limit"`
	ManualMode       bool     `yaml:"manual_mode"`
	Members          []string `yaml:"members"`
}

func (c WaveConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	if len(c.Members) == 0 {
		return fmt.Errorf("at least one member is required")
	}

	if c.ConcurrencyLimit < 0 {
		return fmt.Errorf("concurrency_limit can't be negative, got: %d", c.ConcurrencyLimit)
	}

	return nil
}

func (c WaveConfig) toModel() model.WaveDefinition {
	return model.WaveDefinition{
		Name:             c.Name,
		WorkspaceID:      c.WorkspaceID,
		WorkspaceName:    c.WorkspaceName,
		Members:          c.Members,
		ConcurrencyLimit: c.ConcurrencyLimit,
		ManualMode:       c.ManualMode,
	}
}
