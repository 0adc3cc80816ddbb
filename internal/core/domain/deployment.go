package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultImageName is the tag given to the built image.
	DefaultImageName = "docling-api"
	// DefaultContainerName is the fixed name of the running container.
	DefaultContainerName = "docling-api"
	// DefaultDockerfile is looked up relative to the build context.
	DefaultDockerfile = "Dockerfile"
	// ServicePort is the port the extraction service listens on inside the container.
	ServicePort = 5010
	// DefaultHostPort is published when no port is given.
	DefaultHostPort = ServicePort

	// ServerIPPlaceholder is printed literally; the operator substitutes the address.
	ServerIPPlaceholder = "<server-ip>"
	// ExtractPath is the service endpoint advertised after a deployment.
	ExtractPath = "/extract-generic"
)

// ErrInvalidPort is returned for port values outside 1..65535 or not integers.
var ErrInvalidPort = errors.New("invalid port")

// Deployment is everything the sequencer needs to build and start the service.
type Deployment struct {
	ImageName     string
	ContainerName string
	HostPort      int
	ContainerPort int

	// ContextDir is the build context; ignored when RepoURL is set.
	ContextDir string
	Dockerfile string
	// RepoURL, when set, is cloned and used as the build context.
	RepoURL string
}

// NewDeployment returns a deployment with the fixed names and ports.
func NewDeployment(contextDir string) Deployment {
	return Deployment{
		ImageName:     DefaultImageName,
		ContainerName: DefaultContainerName,
		HostPort:      DefaultHostPort,
		ContainerPort: ServicePort,
		ContextDir:    contextDir,
		Dockerfile:    DefaultDockerfile,
	}
}

// ParsePort parses the optional positional port argument.
// An empty string yields DefaultHostPort.
func ParsePort(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return DefaultHostPort, nil
	}
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w %q: not an integer", ErrInvalidPort, arg)
	}
	if err := checkPort(port); err != nil {
		return 0, err
	}
	return port, nil
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w %d: must be between 1 and 65535", ErrInvalidPort, port)
	}
	return nil
}

// Validate reports the first configuration problem found.
func (d Deployment) Validate() error {
	if strings.TrimSpace(d.ImageName) == "" {
		return errors.New("image name is required")
	}
	if strings.TrimSpace(d.ContainerName) == "" {
		return errors.New("container name is required")
	}
	if err := checkPort(d.HostPort); err != nil {
		return fmt.Errorf("host port: %w", err)
	}
	if err := checkPort(d.ContainerPort); err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	if d.RepoURL == "" && strings.TrimSpace(d.ContextDir) == "" {
		return errors.New("build context directory is required")
	}
	return nil
}

// URL is the address operators are told to use to reach the service.
func (d Deployment) URL() string {
	return fmt.Sprintf("http://%s:%d%s", ServerIPPlaceholder, d.HostPort, ExtractPath)
}
