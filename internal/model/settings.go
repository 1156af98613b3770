package model

import (
	"fmt"
	"time"
)

// Settings are the runtime settings used to launch migrations.
type Settings struct {
	// WorkerURL is the base URL of the migration worker service.
	WorkerURL string
	// SiteID and Secret are the default source platform credentials.
	SiteID string
	Secret string
	// WebhookURL is where the worker posts its final result.
	WebhookURL string
	// ExtraParams are sent as is to the worker.
	ExtraParams map[string]string

	LockDir  string
	CacheDir string
	LogDir   string
	// SuccessMarkers are the worker log lines that prove a migration finished fine.
	SuccessMarkers []string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	StaleAfter     time.Duration

	Provisioning ProvisioningSettings
}

// ProvisioningSettings are the target platform API settings.
type ProvisioningSettings struct {
	URL      string
	Token    string
	Attempts int
	Backoff  time.Duration
}

// ValidateCredentials checks the settings required to launch migrations are present.
func (s Settings) ValidateCredentials() error {
	if s.WorkerURL == "" {
		return fmt.Errorf("worker url is missing: %w", ErrConfiguration)
	}

	if s.SiteID == "" || s.Secret == "" {
		return fmt.Errorf("default source credentials (site id and secret) are missing: %w", ErrConfiguration)
	}

	return nil
}
