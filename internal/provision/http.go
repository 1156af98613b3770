package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// HTTPProvisionerConfig configures the target platform API backed provisioner.
type HTTPProvisionerConfig struct {
	// BaseURL is the target platform API base URL.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Attempts is the max number of tries of each call.
	Attempts int
	// Backoff is the wait before the first retry, doubled on each retry.
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     log.Logger
	// Sleep waits d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *HTTPProvisionerConfig) defaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required: %w", model.ErrConfiguration)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provision.HTTPProvisioner"})
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return nil
}

// HTTPProvisioner implements Provisioner using the target platform JSON API.
type HTTPProvisioner struct {
	baseURL    string
	token      string
	attempts   int
	backoff    time.Duration
	httpClient *http.Client
	logger     log.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewHTTPProvisioner creates a new HTTP provisioner.
func NewHTTPProvisioner(cfg HTTPProvisionerConfig) (*HTTPProvisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HTTPProvisioner{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		sleep:      cfg.Sleep,
	}, nil
}

// --- JSON wire types ---

type resourceJSON struct {
	ID   idJSON `json:"id"`
	Name string `json:"name"`
}

// idJSON accepts string and numeric ids.
type idJSON string

func (i *idJSON) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*i = idJSON(n.String())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*i = idJSON(s)
	return nil
}

type listJSON struct {
	Items []resourceJSON `json:"items"`
}

type createWorkspaceJSON struct {
	Name string `json:"name"`
}

type createProjectJSON struct {
	Name        string `json:"name"`
	WorkspaceID string `json:"workspaceId"`
}

// --- Provisioner interface implementation ---

func (h *HTTPProvisioner) ResolveOrCreateWorkspace(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("workspace name is required: %w", model.ErrNotValid)
	}

	id, err := h.resolveOrCreate(ctx, "workspaces", url.Values{"name": {name}}, name, createWorkspaceJSON{Name: name})
	if err != nil {
		return "", fmt.Errorf("workspace %q: %w: %w", name, err, model.ErrProvisioning)
	}

	return id, nil
}

func (h *HTTPProvisioner) ResolveOrCreateProject(ctx context.Context, name, workspaceID string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("project name is required: %w", model.ErrNotValid)
	}

	query := url.Values{"name": {name}}
	if workspaceID != "" {
		query.Set("workspaceId", workspaceID)
	}

	id, err := h.resolveOrCreate(ctx, "projects", query, name, createProjectJSON{Name: name, WorkspaceID: workspaceID})
	if err != nil {
		return "", fmt.Errorf("project %q: %w: %w", name, err, model.ErrProvisioning)
	}

	return id, nil
}

func (h *HTTPProvisioner) resolveOrCreate(ctx context.Context, resource string, query url.Values, name string, create any) (string, error) {
	var list listJSON
	err := h.do(ctx, http.MethodGet, resource+"?"+query.Encode(), nil, &list)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", resource, err)
	}

	for _, item := range list.Items {
		if item.Name == name && item.ID != "" {
			h.logger.Debugf("Resolved existing %s %q: %s", resource, name, item.ID)
			return string(item.ID), nil
		}
	}

	body, err := json.Marshal(create)
	if err != nil {
		return "", fmt.Errorf("could not marshal request: %w", err)
	}

	var created resourceJSON
	if err := h.do(ctx, http.MethodPost, resource, body, &created); err != nil {
		return "", fmt.Errorf("creating %s: %w", resource, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("created %s without id", resource)
	}

	h.logger.Infof("Created %s %q: %s", resource, name, created.ID)
	return string(created.ID), nil
}

// do runs the request retrying network errors and retryable HTTP statuses.
func (h *HTTPProvisioner) do(ctx context.Context, method, path string, body []byte, out any) error {
	backoff := h.backoff
	var lastErr error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		if attempt > 1 {
			h.logger.Debugf("Retrying %s %s (attempt %d/%d) after: %v", method, path, attempt, h.attempts, lastErr)
			if err := h.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}

		retry, err := h.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retry || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("gave up after %d attempts: %w", h.attempts, lastErr)
}

func (h *HTTPProvisioner) doOnce(ctx context.Context, method, path string, body []byte, out any) (retry bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+"/"+path, reader)
	if err != nil {
		return false, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("decoding response: %w", err)
		}
	}

	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
