package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// ErrBinaryNotInstalled is returned when the proxy binary is not on PATH.
var ErrBinaryNotInstalled = errors.New("proxy binary not installed")

// ProcessSupervisor runs the proxy as a plain OS process with a PID file
// for liveness across restarts of the control plane itself.
type ProcessSupervisor struct {
	cfg          *config.SupervisorConfig
	name         string
	proxy        domain.ProxyInstance
	logger       *logging.Logger
	metrics      *metrics.Collector
	healthClient *http.Client
}

// NewProcessSupervisor creates a process-mode supervisor. It verifies the
// binary is installed up front so a missing install surfaces at startup,
// not on the first enable.
func NewProcessSupervisor(cfg *config.SupervisorConfig, name string, proxy domain.ProxyInstance, logger *logging.Logger, m *metrics.Collector) (*ProcessSupervisor, error) {
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotInstalled, cfg.Binary)
	}

	return &ProcessSupervisor{
		cfg:     cfg,
		name:    name,
		proxy:   proxy,
		logger:  logger.With("component", "supervisor", "mode", "process", "proxy", name),
		metrics: m,
		healthClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

// Start spawns the proxy, writes the PID file and waits for the web API to
// come up.
func (s *ProcessSupervisor) Start(ctx context.Context) error {
	if running, _ := s.Running(ctx); running {
		s.logger.Info("proxy already running")
		return nil
	}

	start := time.Now()
	args := []string{
		"--listen-port", strconv.Itoa(s.proxy.Port),
		"--web-port", strconv.Itoa(s.proxy.WebPort),
		"--set", "web_open_browser=false",
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	// Own process group so stopping the control plane doesn't take the
	// proxy down with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.cfg.Binary, err)
	}

	if err := s.writePID(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	if err := waitReady(ctx, s.healthClient, s.proxy.WebAddr(), s.cfg.StartupWait, s.logger); err != nil {
		_ = s.Stop(ctx)
		return err
	}

	if s.metrics != nil {
		s.metrics.SupervisorStartup.Observe(time.Since(start).Seconds())
		s.metrics.SupervisorRunning.Set(1)
	}
	s.logger.Info("proxy started", "pid", cmd.Process.Pid, "webAddr", s.proxy.WebAddr())
	return nil
}

// Stop sends SIGTERM and polls for exit; after a bounded wait it escalates
// to SIGKILL. The PID file is removed either way.
func (s *ProcessSupervisor) Stop(ctx context.Context) error {
	pid, err := s.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to stop
		}
		return err
	}
	defer os.Remove(s.cfg.PIDFile)

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			if s.metrics != nil {
				s.metrics.SupervisorRunning.Set(0)
			}
			s.logger.Info("proxy stopped", "pid", pid)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	s.logger.Warn("proxy did not exit, killing", "pid", pid)
	_ = proc.Signal(syscall.SIGKILL)
	if s.metrics != nil {
		s.metrics.SupervisorRunning.Set(0)
	}
	return nil
}

// Running checks liveness through the PID file.
func (s *ProcessSupervisor) Running(ctx context.Context) (bool, error) {
	pid, err := s.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return pidAlive(pid), nil
}

func (s *ProcessSupervisor) writePID(pid int) error {
	if err := os.WriteFile(s.cfg.PIDFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (s *ProcessSupervisor) readPID() (int, error) {
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", s.cfg.PIDFile, err)
	}
	return pid, nil
}

// pidAlive probes a process with signal 0.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Compile-time check that ProcessSupervisor implements Supervisor.
var _ Supervisor = (*ProcessSupervisor)(nil)
