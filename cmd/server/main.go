package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/api"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/caddy"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/events"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/mitm"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/store"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/supervisor"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if present (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector()

	logger.Info("Starting interception control plane",
		"caddy_admin", cfg.Caddy.AdminURL,
		"server_id", cfg.Caddy.ServerID,
		"supervisor_mode", cfg.Supervisor.Mode)

	ctx := context.Background()

	// Create Valkey repository for status snapshots and toggle history.
	// The store is optional: the in-memory registry stays authoritative.
	var repo store.Repository
	valkeyRepo, err := store.NewValkeyRepository(&cfg.Store)
	if err != nil {
		logger.Warn("Failed to connect to Valkey - status snapshots and history disabled", "error", err)
	} else {
		defer valkeyRepo.Close()
		repo = valkeyRepo
		logger.Info("Connected to Valkey")
	}

	// Create NATS publisher for toggle events, also optional.
	var publisher events.Publisher
	natsPub, err := events.NewNATSPublisher(&cfg.Events)
	if err != nil {
		logger.Warn("Failed to connect to NATS - toggle events disabled", "error", err)
	} else {
		defer natsPub.Close()
		publisher = natsPub
		logger.Info("Connected to NATS JetStream", "stream", cfg.Events.StreamName)
	}

	// Create Caddy admin API client
	caddyClient := caddy.NewClient(&cfg.Caddy, logger, metricsCollector)
	if err := caddyClient.Health(ctx); err != nil {
		logger.Warn("Caddy admin API not reachable yet", "error", err)
	}

	// Create proxy pool and registry
	pool, err := mitm.NewPool(cfg.Mitm.Proxies)
	if err != nil {
		logger.Fatal("Invalid proxy pool configuration", "error", err)
	}
	registry := mitm.NewRegistry(caddyClient, pool, repo, publisher, logger, metricsCollector)

	// Supervise the default proxy instance
	defaultProxy, err := pool.Get(mitm.DefaultProxyName)
	if err != nil {
		logger.Fatal("No default proxy configured", "error", err)
	}
	sup, err := supervisor.New(&cfg.Supervisor, mitm.DefaultProxyName, defaultProxy, logger, metricsCollector)
	if err != nil {
		logger.Fatal("Failed to create proxy supervisor", "error", err)
	}
	if err := sup.Start(ctx); err != nil {
		logger.Fatal("Failed to start default proxy", "error", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			logger.Error("Failed to stop proxy", "error", err)
		}
	}()

	// Create API handler
	handler := api.NewHandler(cfg, registry, caddyClient, repo, metricsCollector, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Channel to receive server errors from goroutine
	serverErrCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			serverErrCh <- err
		}
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-serverErrCh:
		logger.Error("Shutting down due to server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
