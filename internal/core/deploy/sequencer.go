// Package deploy sequences the build, replace and run steps of a deployment.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/melih/docling-deploy/internal/core/domain"
	"github.com/melih/docling-deploy/internal/core/ports"
)

// Step names a fatal stage of a deployment.
type Step string

const (
	StepBuild  Step = "build"
	StepRun    Step = "run"
	StepHealth Step = "health"
)

// logTail is how many log lines are shown when the service never gets healthy.
const logTail = 50

// StepError reports which step aborted the deployment.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Sequencer runs a deployment against a builder and a container service.
type Sequencer struct {
	builder    ports.BuilderService
	containers ports.ContainerService
	health     ports.HealthChecker
	healthWait time.Duration
	out        io.Writer
	logger     *log.Logger
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithHealthChecker makes Deploy wait up to timeout for the service before
// reporting it. A zero timeout waits as long as the Deploy context allows.
func WithHealthChecker(h ports.HealthChecker, timeout time.Duration) Option {
	return func(s *Sequencer) {
		s.health = h
		s.healthWait = timeout
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// NewSequencer creates a sequencer printing operator notices to out.
func NewSequencer(builder ports.BuilderService, containers ports.ContainerService, out io.Writer, opts ...Option) *Sequencer {
	s := &Sequencer{
		builder:    builder,
		containers: containers,
		out:        out,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy builds the image, replaces the named container and starts a new one.
//
// Only the build and run steps are fatal. A failed removal is logged and the
// sequence continues. Nothing is rolled back: if the run step fails the built
// image is kept.
func (s *Sequencer) Deploy(ctx context.Context, d domain.Deployment) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid deployment: %w", err)
	}

	// 1. Build
	fmt.Fprintf(s.out, "Building Docker image %s...\n", d.ImageName)
	image, err := s.builder.BuildImage(ctx, ports.BuildRequest{
		ContextDir: d.ContextDir,
		RepoURL:    d.RepoURL,
		Dockerfile: d.Dockerfile,
		ImageName:  d.ImageName,
	})
	if err != nil {
		return &StepError{Step: StepBuild, Err: err}
	}
	s.logger.Debug("image built", "image", image)

	// 2. Remove the previous container, if any
	fmt.Fprintf(s.out, "Removing existing container %s (if any)...\n", d.ContainerName)
	if err := s.containers.RemoveContainer(ctx, d.ContainerName); err != nil {
		if errors.Is(err, ports.ErrContainerNotFound) {
			s.logger.Debug("no existing container", "name", d.ContainerName)
		} else {
			s.logger.Warn("failed to remove existing container", "name", d.ContainerName, "err", err)
		}
	}

	// 3. Run
	fmt.Fprintf(s.out, "Starting container %s on port %d...\n", d.ContainerName, d.HostPort)
	c, err := s.containers.RunContainer(ctx, ports.RunRequest{
		Image:         image,
		Name:          d.ContainerName,
		HostPort:      d.HostPort,
		ContainerPort: d.ContainerPort,
	})
	if err != nil {
		return &StepError{Step: StepRun, Err: err}
	}
	s.logger.Debug("container started", "id", c.ID, "name", c.Name)

	if s.health != nil {
		fmt.Fprintf(s.out, "Waiting for %s to become healthy...\n", d.ContainerName)
		hctx := ctx
		if s.healthWait > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, s.healthWait)
			defer cancel()
		}
		if err := s.health.WaitHealthy(hctx, d.HostPort); err != nil {
			s.printLogs(ctx, d.ContainerName)
			return &StepError{Step: StepHealth, Err: err}
		}
	}

	fmt.Fprintf(s.out, "Docling API running at %s\n", d.URL())
	return nil
}

// printLogs shows the last container output, if the container service can read it.
func (s *Sequencer) printLogs(ctx context.Context, name string) {
	reader, ok := s.containers.(ports.LogReader)
	if !ok {
		return
	}
	logs, err := reader.ContainerLogs(ctx, name, logTail)
	if err != nil {
		s.logger.Warn("failed to read container logs", "name", name, "err", err)
		return
	}
	fmt.Fprintf(s.out, "Last %d log lines of %s:\n%s", logTail, name, logs)
}
