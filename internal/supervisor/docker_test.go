package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// skipIfNoDocker skips the test unless a Docker daemon is reachable.
func skipIfNoDocker(t *testing.T) *DockerSupervisor {
	t.Helper()
	if os.Getenv("DOCKER_TEST") == "" {
		t.Skip("Skipping Docker integration test. Set DOCKER_TEST=1 to run.")
	}

	cfg := &config.SupervisorConfig{
		Mode:        "docker",
		Image:       "mitmproxy/mitmproxy:latest",
		StartupWait: 60 * time.Second,
	}
	proxy := domain.ProxyInstance{Host: "127.0.0.1", Port: 28080, WebPort: 28081}

	s, err := NewDockerSupervisor(cfg, "docker-test", proxy, logging.Nop(), nil)
	if err != nil {
		t.Skipf("Failed to create Docker client: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.Running(context.Background()); err != nil {
		t.Skipf("Docker daemon not reachable: %v", err)
	}
	return s
}

func TestDockerSupervisor_Lifecycle(t *testing.T) {
	s := skipIfNoDocker(t)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	running, err := s.Running(ctx)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if !running {
		t.Error("Running = false after Start")
	}

	// Start while running is a no-op.
	if err := s.Start(ctx); err != nil {
		t.Errorf("repeated Start: %v", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	running, _ = s.Running(ctx)
	if running {
		t.Error("Running = true after Stop")
	}

	// Stop without a container is tolerated.
	if err := s.Stop(ctx); err != nil {
		t.Errorf("repeated Stop: %v", err)
	}
}

func TestDockerSupervisor_ContainerName(t *testing.T) {
	s := &DockerSupervisor{name: "secondary"}
	if got := s.containerName(); got != "mitm-secondary" {
		t.Errorf("containerName = %s, want mitm-secondary", got)
	}
}
