package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// mitmproxy's in-container ports; host ports come from the pool entry.
const (
	containerProxyPort = "8080/tcp"
	containerWebPort   = "8081/tcp"
)

// DockerSupervisor runs the intercepting proxy in a Docker container.
type DockerSupervisor struct {
	client       *client.Client
	cfg          *config.SupervisorConfig
	name         string
	proxy        domain.ProxyInstance
	logger       *logging.Logger
	metrics      *metrics.Collector
	healthClient *http.Client
}

// NewDockerSupervisor creates a Docker-mode supervisor.
func NewDockerSupervisor(cfg *config.SupervisorConfig, name string, proxy domain.ProxyInstance, logger *logging.Logger, m *metrics.Collector) (*DockerSupervisor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerSupervisor{
		client:  cli,
		cfg:     cfg,
		name:    name,
		proxy:   proxy,
		logger:  logger.With("component", "supervisor", "mode", "docker", "proxy", name),
		metrics: m,
		healthClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

// Close closes the Docker client connection.
func (s *DockerSupervisor) Close() error {
	return s.client.Close()
}

func (s *DockerSupervisor) containerName() string {
	return "mitm-" + s.name
}

// Start creates and starts the proxy container, then waits for the web API.
func (s *DockerSupervisor) Start(ctx context.Context) error {
	if running, _ := s.Running(ctx); running {
		s.logger.Info("proxy container already running")
		return nil
	}

	start := time.Now()

	portBindings := nat.PortMap{
		nat.Port(containerProxyPort): []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: strconv.Itoa(s.proxy.Port)},
		},
		nat.Port(containerWebPort): []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: strconv.Itoa(s.proxy.WebPort)},
		},
	}
	exposedPorts := nat.PortSet{
		nat.Port(containerProxyPort): struct{}{},
		nat.Port(containerWebPort):   struct{}{},
	}

	containerCfg := &container.Config{
		Image:        s.cfg.Image,
		ExposedPorts: exposedPorts,
		Cmd: []string{
			"mitmweb",
			"--web-host", "0.0.0.0",
			"--set", "web_open_browser=false",
		},
		Labels: map[string]string{"managed-by": "mitm-control-plane"},
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	resp, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, s.containerName())
	if err != nil {
		return fmt.Errorf("failed to create proxy container: %w", err)
	}

	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Orphaned create; removal error ignored, the next Start would fail
		// on the name conflict and surface it.
		_ = s.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
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
	s.logger.Info("proxy container started", "containerID", resp.ID[:12], "webAddr", s.proxy.WebAddr())
	return nil
}

// Stop stops and removes the proxy container.
func (s *DockerSupervisor) Stop(ctx context.Context) error {
	name := s.containerName()

	timeout := 10
	if err := s.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to stop proxy container: %w", err)
		}
	}
	if err := s.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
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
func (s *DockerSupervisor) Running(ctx context.Context) (bool, error) {
	inspect, err := s.client.ContainerInspect(ctx, s.containerName())
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect proxy container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Compile-time check that DockerSupervisor implements Supervisor.
var _ Supervisor = (*DockerSupervisor)(nil)
