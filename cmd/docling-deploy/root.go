package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/melih/docling-deploy/internal/adapters/builder"
	"github.com/melih/docling-deploy/internal/adapters/docker"
	"github.com/melih/docling-deploy/internal/adapters/dryrun"
	"github.com/melih/docling-deploy/internal/adapters/http"
	"github.com/melih/docling-deploy/internal/config"
	"github.com/melih/docling-deploy/internal/core/deploy"
	"github.com/melih/docling-deploy/internal/core/ports"
	"github.com/spf13/cobra"
)

// adapters wires the ports used by a deployment.
type adapters struct {
	builder    ports.BuilderService
	containers ports.ContainerService
	health     ports.HealthChecker
}

// adapterFactory creates the adapters for a resolved configuration.
type adapterFactory func(cfg config.Config, out io.Writer, logger *log.Logger) (adapters, error)

// dockerAdapters talks to the Docker daemon from the environment, or prints
// the commands when a dry run is requested.
func dockerAdapters(cfg config.Config, out io.Writer, logger *log.Logger) (adapters, error) {
	if cfg.DryRun {
		a := dryrun.New(out)
		return adapters{builder: a, containers: a}, nil
	}

	// 1. Initialize Adapters (Infrastructure)
	b, err := builder.NewBuilderAdapter(out, logger)
	if err != nil {
		return adapters{}, err
	}
	c, err := docker.NewAdapter(logger)
	if err != nil {
		return adapters{}, err
	}

	wired := adapters{builder: b, containers: c}
	if cfg.Wait > 0 {
		wired.health = http.NewHealthProber("127.0.0.1", logger)
	}
	return wired, nil
}

func newRootCmd(stdout, stderr io.Writer, newAdapters adapterFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docling-deploy [port]",
		Short: "Build and (re)start the Docling API container",
		Long: `docling-deploy builds the Docling API image from the Dockerfile next to
this executable, removes any container named docling-api and starts a
new one publishing the given host port (default 5010) to port 5010.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(cmd.Flags())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := config.New(cmd.Flags())
		if err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		logger := log.NewWithOptions(stderr, log.Options{Prefix: "docling-deploy"})
		if cfg.Verbose {
			logger.SetLevel(log.DebugLevel)
		}

		var portArg string
		if len(args) > 0 {
			portArg = args[0]
		}
		d, err := cfg.Deployment(portArg)
		if err != nil {
			return err
		}
		logger.Debug("deployment resolved", "image", d.ImageName, "container", d.ContainerName,
			"port", fmt.Sprintf("%d:%d", d.HostPort, d.ContainerPort), "context", d.ContextDir)

		wired, err := newAdapters(cfg, stdout, logger)
		if err != nil {
			return err
		}

		opts := []deploy.Option{deploy.WithLogger(logger)}
		if wired.health != nil {
			opts = append(opts, deploy.WithHealthChecker(wired.health, cfg.Wait))
		}

		return deploy.NewSequencer(wired.builder, wired.containers, stdout, opts...).Deploy(cmd.Context(), d)
	}
	return cmd
}

// execute runs the command and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, args, stdout, stderr, dockerAdapters)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newAdapters adapterFactory) int {
	cmd := newRootCmd(stdout, stderr, newAdapters)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.NewWithOptions(stderr, log.Options{Prefix: "docling-deploy"}).Error(err.Error())
		return 1
	}
	return 0
}
