package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Caddy.AdminURL != "http://localhost:2019" {
		t.Errorf("AdminURL = %s, want http://localhost:2019", cfg.Caddy.AdminURL)
	}
	if cfg.Caddy.ServerID != "srv0" {
		t.Errorf("ServerID = %s, want srv0", cfg.Caddy.ServerID)
	}
	if cfg.Caddy.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Caddy.Timeout)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Supervisor.Mode != "process" {
		t.Errorf("Supervisor.Mode = %s, want process", cfg.Supervisor.Mode)
	}
	if len(cfg.Mitm.Proxies) != 1 || cfg.Mitm.Proxies[0].Name != "default" {
		t.Errorf("Proxies = %+v, want one default entry", cfg.Mitm.Proxies)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CADDY_ADMIN_URL", "http://caddy:2019")
	t.Setenv("CADDY_TIMEOUT", "3s")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("MITM_PROXIES", "alpha=10.0.0.1:8080:8081,beta=10.0.0.2:8080:8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Caddy.AdminURL != "http://caddy:2019" {
		t.Errorf("AdminURL = %s", cfg.Caddy.AdminURL)
	}
	if cfg.Caddy.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Caddy.Timeout)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if len(cfg.Mitm.Proxies) != 2 {
		t.Fatalf("Proxies length = %d, want 2", len(cfg.Mitm.Proxies))
	}
}

func TestLoad_InvalidProxies(t *testing.T) {
	t.Setenv("MITM_PROXIES", "not-a-proxy-entry")

	if _, err := Load(); err == nil {
		t.Error("Load should fail on a malformed MITM_PROXIES")
	}
}

func TestParseProxies(t *testing.T) {
	proxies, err := parseProxies("primary=127.0.0.1:8080:8081, secondary=10.0.0.5:9080:9081")
	if err != nil {
		t.Fatalf("parseProxies: %v", err)
	}

	if len(proxies) != 2 {
		t.Fatalf("length = %d, want 2", len(proxies))
	}
	// Order must match the input: it determines the default alias.
	if proxies[0].Name != "primary" || proxies[1].Name != "secondary" {
		t.Errorf("order = [%s %s], want [primary secondary]", proxies[0].Name, proxies[1].Name)
	}
	if proxies[0].Instance.Host != "127.0.0.1" || proxies[0].Instance.Port != 8080 || proxies[0].Instance.WebPort != 8081 {
		t.Errorf("primary = %+v", proxies[0].Instance)
	}
}

func TestParseProxies_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing name", "127.0.0.1:8080:8081"},
		{"missing web port", "p=127.0.0.1:8080"},
		{"bad port", "p=127.0.0.1:eighty:8081"},
		{"bad web port", "p=127.0.0.1:8080:webby"},
		{"empty list", ""},
		{"only separators", " , , "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseProxies(tt.raw); err == nil {
				t.Errorf("parseProxies(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "nope")
	t.Setenv("TEST_DUR", "90s")

	if got := getEnv("TEST_STR", "fallback"); got != "value" {
		t.Errorf("getEnv = %s", got)
	}
	if got := getEnv("TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnv unset = %s", got)
	}
	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getEnvInt bad = %d, want fallback 1", got)
	}
	if got := getEnvDuration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	if got := getEnvDuration("TEST_UNSET", time.Second); got != time.Second {
		t.Errorf("getEnvDuration unset = %v", got)
	}
}
