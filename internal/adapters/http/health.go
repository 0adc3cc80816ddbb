package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
)

// HealthPath is the liveness endpoint of the extraction service.
const HealthPath = "/health"

// healthResponse is the body returned by the service's health endpoint.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// HealthProber polls the health endpoint of a freshly started service.
type HealthProber struct {
	host           string
	interval       time.Duration
	requestTimeout time.Duration
	logger         *log.Logger
}

// NewHealthProber creates a prober for services published on host.
func NewHealthProber(host string, logger *log.Logger) *HealthProber {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &HealthProber{
		host:           host,
		interval:       time.Second,
		requestTimeout: 2 * time.Second,
		logger:         logger,
	}
}

// WithInterval overrides the delay between two probes.
func (p *HealthProber) WithInterval(d time.Duration) *HealthProber {
	p.interval = d
	return p
}

// WaitHealthy blocks until the service on port reports healthy or ctx is done.
func (p *HealthProber) WaitHealthy(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://%s:%d%s", p.host, port, HealthPath)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := p.probe(ctx, url)
		if err == nil {
			p.logger.Debug("service healthy", "url", url, "service", status.Service, "version", status.Version)
			return nil
		}
		lastErr = err
		p.logger.Debug("service not ready", "url", url, "err", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("service at %s not healthy: %w (last error: %v)", url, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// probe sends one health request. Its timeout never outlasts ctx.
func (p *HealthProber) probe(ctx context.Context, url string) (healthResponse, error) {
	var body healthResponse
	timeout := p.requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return body, ctx.Err()
		}
		if left < timeout {
			timeout = left
		}
	}
	code, _, errs := fiber.Get(url).Timeout(timeout).Struct(&body)
	if len(errs) > 0 {
		return body, errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		return body, fmt.Errorf("unexpected status %d", code)
	}
	if body.Status != "healthy" {
		return body, fmt.Errorf("service reports status %q", body.Status)
	}
	return body, nil
}
