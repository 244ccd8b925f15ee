// Package supervisor manages the lifecycle of intercepting proxy processes:
// spawn, readiness wait, liveness and graceful stop. Three modes exist:
// a plain OS process (mitmweb binary), a Docker container and a rootless
// Podman container.
package supervisor

import (
	"context"
	"fmt"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// Supervisor defines the interface for proxy process lifecycle management.
// Implementations: OS process (dev), Docker, Podman.
type Supervisor interface {
	// Start launches the proxy and waits until its web API answers.
	Start(ctx context.Context) error

	// Stop terminates the proxy gracefully, escalating after a bounded wait.
	Stop(ctx context.Context) error

	// Running reports whether the proxy is currently alive.
	Running(ctx context.Context) (bool, error)
}

// New creates a supervisor for the named pool entry based on the configured
// mode.
func New(cfg *config.SupervisorConfig, name string, proxy domain.ProxyInstance, logger *logging.Logger, m *metrics.Collector) (Supervisor, error) {
	switch cfg.Mode {
	case "docker":
		return NewDockerSupervisor(cfg, name, proxy, logger, m)
	case "podman":
		return NewPodmanSupervisor(cfg, name, proxy, logger, m)
	case "process", "":
		return NewProcessSupervisor(cfg, name, proxy, logger, m)
	default:
		return nil, fmt.Errorf("unknown supervisor mode %q", cfg.Mode)
	}
}
