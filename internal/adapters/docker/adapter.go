package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/melih/docling-deploy/internal/core/domain"
	"github.com/melih/docling-deploy/internal/core/ports"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerAPI is the part of the Docker client the adapter uses.
type containerAPI interface {
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
}

// Adapter implements ports.ContainerService using Docker SDK
type Adapter struct {
	cli    containerAPI
	logger *log.Logger
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter(logger *log.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapter(cli, logger), nil
}

func newAdapter(cli containerAPI, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Adapter{cli: cli, logger: logger}
}

// RemoveContainer force-removes a container by name, stopping it if it runs.
func (a *Adapter) RemoveContainer(ctx context.Context, name string) error {
	err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ports.ErrContainerNotFound, name)
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}
	a.logger.Debug("removed container", "name", name)
	return nil
}

// RunContainer creates and starts a detached container publishing one port.
func (a *Adapter) RunContainer(ctx context.Context, req ports.RunRequest) (domain.Container, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(req.ContainerPort))
	if err != nil {
		return domain.Container{}, fmt.Errorf("invalid container port: %w", err)
	}

	// 1. Create Container
	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        req.Image,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostPort: strconv.Itoa(req.HostPort)}},
			},
		},
		nil, nil, req.Name)
	if err != nil {
		return domain.Container{}, fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		a.logger.Warn("docker create", "warning", w)
	}

	// 2. Start Container
	// The created container is left in place on failure, like `docker run -d` does.
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.Container{}, fmt.Errorf("failed to start container: %w", err)
	}

	return domain.Container{
		ID:            shortID(resp.ID),
		Name:          req.Name,
		Image:         req.Image,
		HostPort:      req.HostPort,
		ContainerPort: req.ContainerPort,
	}, nil
}

// ContainerLogs returns the last tail lines of the container's stdout and stderr.
func (a *Adapter) ContainerLogs(ctx context.Context, name string, tail int) (string, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	}
	logs, err := a.cli.ContainerLogs(ctx, name, options)
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	// Containers run without a TTY, so both streams arrive multiplexed.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
