// Package config resolves deployment settings from flags, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/melih/docling-deploy/internal/core/domain"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DOCLING_DEPLOY_IMAGE.
const EnvPrefix = "DOCLING_DEPLOY"

// Keys shared by flags, environment and the Config struct.
const (
	KeyImage   = "image"
	KeyName    = "name"
	KeyContext = "context"
	KeyFile    = "file"
	KeyRepo    = "repo"
	KeyDryRun  = "dry-run"
	KeyWait    = "wait"
	KeyVerbose = "verbose"
)

// Config holds the resolved settings.
type Config struct {
	Image   string        `mapstructure:"image"`
	Name    string        `mapstructure:"name"`
	Context string        `mapstructure:"context"`
	File    string        `mapstructure:"file"`
	Repo    string        `mapstructure:"repo"`
	DryRun  bool          `mapstructure:"dry-run"`
	Wait    time.Duration `mapstructure:"wait"`
	Verbose bool          `mapstructure:"verbose"`
}

// RegisterFlags adds the deployment flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyImage, domain.DefaultImageName, "tag of the built image")
	fs.String(KeyName, domain.DefaultContainerName, "name of the container to replace")
	fs.String(KeyContext, "", "build context directory (default is the directory of this executable)")
	fs.StringP(KeyFile, "f", domain.DefaultDockerfile, "Dockerfile name, relative to the build context")
	fs.String(KeyRepo, "", "git repository to clone and build instead of the local context")
	fs.Bool(KeyDryRun, false, "print the docker commands instead of running them")
	fs.Duration(KeyWait, 0, "wait up to this long for the service health check to pass (0 disables)")
	fs.BoolP(KeyVerbose, "v", false, "enable verbose output")
}

// New returns a viper instance bound to fs and the DOCLING_DEPLOY_* environment.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Deployment builds the deployment for the optional port argument.
// The build context defaults to the directory of the running executable.
func (c Config) Deployment(portArg string) (domain.Deployment, error) {
	port, err := domain.ParsePort(portArg)
	if err != nil {
		return domain.Deployment{}, err
	}

	contextDir := c.Context
	if contextDir == "" && c.Repo == "" {
		contextDir, err = ToolDir()
		if err != nil {
			return domain.Deployment{}, err
		}
	}
	if contextDir != "" {
		contextDir, err = filepath.Abs(contextDir)
		if err != nil {
			return domain.Deployment{}, fmt.Errorf("failed to resolve build context: %w", err)
		}
	}

	d := domain.NewDeployment(contextDir)
	d.HostPort = port
	d.RepoURL = c.Repo
	if c.Image != "" {
		d.ImageName = c.Image
	}
	if c.Name != "" {
		d.ContainerName = c.Name
	}
	if c.File != "" {
		d.Dockerfile = c.File
	}
	return d, nil
}

// ToolDir returns the directory holding the running executable, with
// symlinks resolved, so the build context does not depend on the caller's
// working directory.
func ToolDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}
