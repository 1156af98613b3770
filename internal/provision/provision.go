package provision

import (
	"context"
	"fmt"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// Provisioner resolves or creates the target platform resources a migration writes into.
// Implementations MUST be idempotent, resolving the same name N times returns the same id.
type Provisioner interface {
	ResolveOrCreateWorkspace(ctx context.Context, name string) (string, error)
	ResolveOrCreateProject(ctx context.Context, name, workspaceID string) (string, error)
}

//go:generate mockery --case underscore --output provisionmock --outpkg provisionmock --name Provisioner

// NewLogProvisioner wraps a provisioner with debug logging before and after each call.
func NewLogProvisioner(logger log.Logger, p Provisioner) Provisioner {
	if logger == nil {
		logger = log.Noop
	}
	return logProvisioner{
		logger: logger.WithValues(log.Kv{"svc": "provision.Provisioner"}),
		next:   p,
	}
}

type logProvisioner struct {
	logger log.Logger
	next   Provisioner
}

func (l logProvisioner) ResolveOrCreateWorkspace(ctx context.Context, name string) (string, error) {
	l.logger.Debugf("Provisioning workspace %q...", name)

	id, err := l.next.ResolveOrCreateWorkspace(ctx, name)
	if err != nil {
		return "", err
	}

	l.logger.Debugf("Provisioned workspace %q: %s", name, id)
	return id, nil
}

func (l logProvisioner) ResolveOrCreateProject(ctx context.Context, name, workspaceID string) (string, error) {
	l.logger.Debugf("Provisioning project %q on workspace %s...", name, workspaceID)

	id, err := l.next.ResolveOrCreateProject(ctx, name, workspaceID)
	if err != nil {
		return "", err
	}

	l.logger.Debugf("Provisioned project %q: %s", name, id)
	return id, nil
}

// Disabled is the Provisioner used when no target platform API is configured, every call
// fails with model.ErrProvisioning.
const Disabled = disabled(0)

type disabled int

func (disabled) ResolveOrCreateWorkspace(_ context.Context, name string) (string, error) {
	return "", fmt.Errorf("can't resolve workspace %q, target platform API not configured: %w", name, model.ErrProvisioning)
}

func (disabled) ResolveOrCreateProject(_ context.Context, name, _ string) (string, error) {
	return "", fmt.Errorf("can't resolve project %q, target platform API not configured: %w", name, model.ErrProvisioning)
}
