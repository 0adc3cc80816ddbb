// Package dryrun implements the deployment ports by printing the docker
// commands that would be run instead of talking to a daemon.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/melih/docling-deploy/internal/core/domain"
	"github.com/melih/docling-deploy/internal/core/ports"
)

// Adapter implements ports.BuilderService and ports.ContainerService.
type Adapter struct {
	out io.Writer
}

// New returns an adapter writing commands to out.
func New(out io.Writer) *Adapter {
	return &Adapter{out: out}
}

func (a *Adapter) print(args ...string) {
	fmt.Fprintln(a.out, "+ docker "+strings.Join(args, " "))
}

// BuildImage prints the equivalent `docker build`.
func (a *Adapter) BuildImage(_ context.Context, req ports.BuildRequest) (string, error) {
	source := req.ContextDir
	if req.RepoURL != "" {
		source = req.RepoURL
	}
	args := []string{"build", "-t", req.ImageName}
	if req.Dockerfile != "" && req.Dockerfile != domain.DefaultDockerfile {
		// Remote contexts resolve -f inside the repository.
		dockerfile := req.Dockerfile
		if req.RepoURL == "" && !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(source, req.Dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	a.print(append(args, source)...)
	return req.ImageName, nil
}

// RemoveContainer prints the equivalent `docker rm -f`.
func (a *Adapter) RemoveContainer(_ context.Context, name string) error {
	a.print("rm", "-f", name)
	return nil
}

// RunContainer prints the equivalent `docker run -d`.
func (a *Adapter) RunContainer(_ context.Context, req ports.RunRequest) (domain.Container, error) {
	a.print("run", "-d", "--name", req.Name, "-p", fmt.Sprintf("%d:%d", req.HostPort, req.ContainerPort), req.Image)
	return domain.Container{
		Name:          req.Name,
		Image:         req.Image,
		HostPort:      req.HostPort,
		ContainerPort: req.ContainerPort,
	}, nil
}
