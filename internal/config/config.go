package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Caddy      CaddyConfig
	Mitm       MitmConfig
	Supervisor SupervisorConfig
	Store      StoreConfig
	Events     EventsConfig
	APIKey     string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CaddyConfig struct {
	AdminURL string
	ServerID string // Caddy server whose route list owns registered services
	Timeout  time.Duration
}

// MitmConfig describes the intercepting proxy targets. Proxies preserves the
// order entries were supplied in; the first one becomes the "default" alias
// when no entry carries that name.
type MitmConfig struct {
	Proxies []NamedProxy
}

// NamedProxy pairs a pool name with its instance addresses.
type NamedProxy struct {
	Name     string
	Instance domain.ProxyInstance
}

type SupervisorConfig struct {
	Mode        string // "process", "docker" or "podman"
	Binary      string // proxy binary for process mode (mitmweb by default)
	PIDFile     string
	Image       string // container image for docker/podman modes
	SocketPath  string // podman socket
	StartupWait time.Duration
}

type StoreConfig struct {
	ValkeyAddr string
	Password   string
	DB         int
	HistoryMax int
}

type EventsConfig struct {
	NATSURL    string
	StreamName string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	proxies, err := parseProxies(getEnv("MITM_PROXIES", "default=127.0.0.1:8080:8081"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8090),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Caddy: CaddyConfig{
			AdminURL: getEnv("CADDY_ADMIN_URL", "http://localhost:2019"),
			ServerID: getEnv("CADDY_SERVER_ID", "srv0"),
			Timeout:  getEnvDuration("CADDY_TIMEOUT", 10*time.Second),
		},
		Mitm: MitmConfig{
			Proxies: proxies,
		},
		Supervisor: SupervisorConfig{
			Mode:        getEnv("SUPERVISOR_MODE", "process"),
			Binary:      getEnv("MITM_BINARY", "mitmweb"),
			PIDFile:     getEnv("MITM_PIDFILE", "/tmp/mitmproxy.pid"),
			Image:       getEnv("MITM_IMAGE", "mitmproxy/mitmproxy:latest"),
			SocketPath:  getEnv("PODMAN_SOCKET", "unix:///run/podman/podman.sock"),
			StartupWait: getEnvDuration("MITM_STARTUP_WAIT", 15*time.Second),
		},
		Store: StoreConfig{
			ValkeyAddr: getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:   getEnv("VALKEY_PASSWORD", ""),
			DB:         getEnvInt("VALKEY_DB", 0),
			HistoryMax: getEnvInt("TOGGLE_HISTORY_MAX", 1000),
		},
		Events: EventsConfig{
			NATSURL:    getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM_NAME", "INTERCEPTION"),
		},
		APIKey: getEnv("API_KEY", ""),
	}, nil
}

// parseProxies parses a comma-separated "name=host:port:webPort" list,
// preserving entry order.
func parseProxies(raw string) ([]NamedProxy, error) {
	var out []NamedProxy
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid proxy entry %q: want name=host:port:webPort", entry)
		}
		parts := strings.Split(addr, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid proxy address %q: want host:port:webPort", addr)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid proxy port in %q: %w", entry, err)
		}
		webPort, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid proxy web port in %q: %w", entry, err)
		}
		out = append(out, NamedProxy{
			Name: strings.TrimSpace(name),
			Instance: domain.ProxyInstance{
				Host:    parts[0],
				Port:    port,
				WebPort: webPort,
			},
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("MITM_PROXIES must contain at least one entry")
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
