package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestBackend_Dial(t *testing.T) {
	b := Backend{Host: "elasticsearch", Port: 9200}
	if got := b.Dial(); got != "elasticsearch:9200" {
		t.Errorf("Dial = %s, want elasticsearch:9200", got)
	}
}

func TestServiceRegistration_HostBased(t *testing.T) {
	hostReg := ServiceRegistration{ID: "a", Host: "a.local"}
	if !hostReg.HostBased() {
		t.Error("HostBased = false for a host selector")
	}

	pathReg := ServiceRegistration{ID: "b", PathPrefix: "/b"}
	if pathReg.HostBased() {
		t.Error("HostBased = true for a path selector")
	}
}

func TestProxyInstance_Addrs(t *testing.T) {
	p := ProxyInstance{Host: "127.0.0.1", Port: 8080, WebPort: 8081}
	if got := p.Dial(); got != "127.0.0.1:8080" {
		t.Errorf("Dial = %s", got)
	}
	if got := p.WebAddr(); got != "127.0.0.1:8081" {
		t.Errorf("WebAddr = %s", got)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 409, Body: `{"error":"conflict"}`, Method: "POST", URL: "http://caddy/config"}
	msg := err.Error()
	for _, want := range []string{"409", "POST", "http://caddy/config", "conflict"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestTimeoutError_Error(t *testing.T) {
	err := &TimeoutError{Method: "GET", URL: "http://caddy/config", Timeout: 10 * time.Second}
	if !strings.Contains(err.Error(), "10s") {
		t.Errorf("message %q missing the timeout", err.Error())
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NetworkError{Method: "GET", URL: "http://caddy", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("message %q missing the cause", err.Error())
	}
}

func TestSentinelWrapping(t *testing.T) {
	wrapped := fmt.Errorf("%w: elastic", ErrUnknownService)
	if !errors.Is(wrapped, ErrUnknownService) {
		t.Error("wrapped sentinel not recognized by errors.Is")
	}
	if errors.Is(wrapped, ErrUnknownProxy) {
		t.Error("sentinels must not alias each other")
	}
}
