package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// HealthCheckConfig contains configuration for proxy health checks.
type HealthCheckConfig struct {
	TCPTimeout  time.Duration
	HTTPTimeout time.Duration
}

// DefaultHealthCheckConfig returns sensible defaults for health checking.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		TCPTimeout:  2 * time.Second,
		HTTPTimeout: 5 * time.Second,
	}
}

// CheckProxyHealth checks whether an intercepting proxy is up, probing its
// web/API port: first a TCP connect (fast, catches connection refused),
// then an HTTP request to verify the flow API responds.
//
// A false result with nil error is the expected outcome while the process
// is still starting; errors are reserved for unexpected failures.
func CheckProxyHealth(ctx context.Context, client *http.Client, webAddr string, logger *logging.Logger) (bool, error) {
	return CheckProxyHealthWithConfig(ctx, client, webAddr, logger, DefaultHealthCheckConfig())
}

// CheckProxyHealthWithConfig performs a health check with custom configuration.
func CheckProxyHealthWithConfig(ctx context.Context, client *http.Client, webAddr string, logger *logging.Logger, cfg HealthCheckConfig) (bool, error) {
	conn, err := net.DialTimeout("tcp", webAddr, cfg.TCPTimeout)
	if err != nil {
		// Connection refused is normal during startup.
		logger.Debug("health check TCP failed", "addr", webAddr, "error", err)
		return false, nil
	}
	conn.Close()

	url := fmt.Sprintf("http://%s/", webAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("health check HTTP failed", "addr", webAddr, "error", err)
		return false, nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// 2xx-4xx means the API is serving; 5xx means not ready yet.
	healthy := resp.StatusCode >= 200 && resp.StatusCode < 500
	if !healthy {
		logger.Debug("health check HTTP unexpected status", "addr", webAddr, "status", resp.StatusCode)
	}
	return healthy, nil
}

// waitReady polls the proxy's web port until it responds or the allotted
// wait elapses. Bounded polling, never unbounded blocking.
func waitReady(ctx context.Context, client *http.Client, webAddr string, wait time.Duration, logger *logging.Logger) error {
	deadline := time.Now().Add(wait)
	interval := 250 * time.Millisecond

	for {
		healthy, err := CheckProxyHealth(ctx, client, webAddr, logger)
		if err != nil {
			return err
		}
		if healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("proxy at %s not ready after %s", webAddr, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
