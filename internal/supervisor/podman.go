package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
	nettypes "github.com/containers/common/libnetwork/types"
)

// PodmanSupervisor runs the intercepting proxy in a Podman container,
// suitable for rootless deployments.
type PodmanSupervisor struct {
	conn         context.Context // Podman connection context
	cfg          *config.SupervisorConfig
	name         string
	proxy        domain.ProxyInstance
	logger       *logging.Logger
	metrics      *metrics.Collector
	healthClient *http.Client
}

// NewPodmanSupervisor creates a Podman-mode supervisor.
func NewPodmanSupervisor(cfg *config.SupervisorConfig, name string, proxy domain.ProxyInstance, logger *logging.Logger, m *metrics.Collector) (*PodmanSupervisor, error) {
	conn, err := bindings.NewConnection(context.Background(), cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Podman socket at %s: %w", cfg.SocketPath, err)
	}

	return &PodmanSupervisor{
		conn:    conn,
		cfg:     cfg,
		name:    name,
		proxy:   proxy,
		logger:  logger.With("component", "supervisor", "mode", "podman", "proxy", name),
		metrics: m,
		healthClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

func (s *PodmanSupervisor) containerName() string {
	return "mitm-" + s.name
}

// Start creates and starts the proxy container, then waits for the web API.
func (s *PodmanSupervisor) Start(ctx context.Context) error {
	if running, _ := s.Running(ctx); running {
		s.logger.Info("proxy container already running")
		return nil
	}

	start := time.Now()

	spec := specgen.NewSpecGenerator(s.cfg.Image, false)
	spec.Name = s.containerName()
	spec.Command = []string{
		"mitmweb",
		"--web-host", "0.0.0.0",
		"--set", "web_open_browser=false",
	}
	spec.Labels = map[string]string{"managed-by": "mitm-control-plane"}
	spec.PortMappings = []nettypes.PortMapping{
		{
			ContainerPort: 8080,
			HostPort:      uint16(s.proxy.Port),
			HostIP:        "0.0.0.0",
			Protocol:      "tcp",
		},
		{
			ContainerPort: 8081,
			HostPort:      uint16(s.proxy.WebPort),
			HostIP:        "0.0.0.0",
			Protocol:      "tcp",
		},
	}

	createResponse, err := containers.CreateWithSpec(s.conn, spec, nil)
	if err != nil {
		return fmt.Errorf("failed to create proxy container: %w", err)
	}

	if err := containers.Start(s.conn, createResponse.ID, nil); err != nil {
		_, _ = containers.Remove(s.conn, createResponse.ID, new(containers.RemoveOptions).WithForce(true))
		return fmt.Errorf("failed to start proxy container: %w", err)
	}

	if err := waitReady(ctx, s.healthClient, s.proxy.WebAddr(), s.cfg.StartupWait, s.logger); err != nil {
		_ = s.Stop(ctx)
		return err
	}

	if s.metrics != nil {
		s.metrics.SupervisorStartup.Observe(time.Since(start).Seconds())
		s.metrics.SupervisorRunning.Set(1)
	}
	s.logger.Info("proxy container started", "containerID", createResponse.ID[:12], "webAddr", s.proxy.WebAddr())
	return nil
}

// Stop stops and removes the proxy container.
func (s *PodmanSupervisor) Stop(ctx context.Context) error {
	name := s.containerName()

	stopOpts := new(containers.StopOptions).WithTimeout(uint(10)).WithIgnore(true)
	if err := containers.Stop(s.conn, name, stopOpts); err != nil {
		if !isNoSuchContainer(err) {
			s.logger.Warn("failed to stop proxy container", "error", err)
		}
	}

	removeOpts := new(containers.RemoveOptions).WithForce(true).WithIgnore(true)
	if _, err := containers.Remove(s.conn, name, removeOpts); err != nil {
		if !isNoSuchContainer(err) {
			return fmt.Errorf("failed to remove proxy container: %w", err)
		}
	}

	if s.metrics != nil {
		s.metrics.SupervisorRunning.Set(0)
	}
	s.logger.Info("proxy container stopped")
	return nil
}

// Running reports whether the proxy container is in the running state.
func (s *PodmanSupervisor) Running(ctx context.Context) (bool, error) {
	data, err := containers.Inspect(s.conn, s.containerName(), nil)
	if err != nil {
		if isNoSuchContainer(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect proxy container: %w", err)
	}
	return data.State != nil && data.State.Running, nil
}

func isNoSuchContainer(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such container")
}

// Compile-time check that PodmanSupervisor implements Supervisor.
var _ Supervisor = (*PodmanSupervisor)(nil)
