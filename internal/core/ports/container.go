package ports

import (
	"context"
	"errors"

	"github.com/melih/docling-deploy/internal/core/domain"
)

// ErrContainerNotFound is returned by RemoveContainer when no container has the name.
var ErrContainerNotFound = errors.New("container not found")

// RunRequest describes a detached container start.
type RunRequest struct {
	Image         string
	Name          string
	HostPort      int
	ContainerPort int
}

// ContainerService defines the container operations a deployment needs.
// This interface allows us to switch between the Docker SDK and a dry run
// without changing the deployment logic.
type ContainerService interface {
	// RemoveContainer forcibly removes the named container.
	RemoveContainer(ctx context.Context, name string) error
	// RunContainer creates and starts a detached container.
	RunContainer(ctx context.Context, req RunRequest) (domain.Container, error)
}

// LogReader returns the last lines a container wrote.
type LogReader interface {
	ContainerLogs(ctx context.Context, name string, tail int) (string, error)
}

// HealthChecker waits for a started service to answer.
type HealthChecker interface {
	WaitHealthy(ctx context.Context, port int) error
}
