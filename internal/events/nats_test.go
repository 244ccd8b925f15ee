package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/google/uuid"
)

// skipIfNoNATS skips the test unless a NATS server with JetStream is
// reachable.
func skipIfNoNATS(t *testing.T) *NATSPublisher {
	t.Helper()
	if os.Getenv("NATS_TEST") == "" {
		t.Skip("Skipping NATS integration test. Set NATS_TEST=1 to run.")
	}

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	pub, err := NewNATSPublisher(&config.EventsConfig{
		NATSURL:    url,
		StreamName: "INTERCEPTION_TEST",
	})
	if err != nil {
		t.Skipf("Failed to connect to NATS: %v", err)
	}

	t.Cleanup(func() { pub.Close() })
	return pub
}

func TestNATSPublisher_PublishToggle(t *testing.T) {
	pub := skipIfNoNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := ToggleEvent{
		EventID:    uuid.NewString(),
		ServiceID:  "elastic",
		Operation:  "enable",
		ProxyName:  "default",
		RouteID:    "mitm_elastic",
		OccurredAt: time.Now().UTC(),
	}

	if err := pub.PublishToggle(ctx, event); err != nil {
		t.Fatalf("PublishToggle: %v", err)
	}

	// Republishing the same EventID must dedupe, not error.
	if err := pub.PublishToggle(ctx, event); err != nil {
		t.Errorf("duplicate PublishToggle: %v", err)
	}
}

func TestNATSPublisher_BothSubjects(t *testing.T) {
	pub := skipIfNoNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, op := range []string{"enable", "disable"} {
		event := ToggleEvent{
			EventID:    uuid.NewString(),
			ServiceID:  "elastic",
			Operation:  op,
			RouteID:    "mitm_elastic",
			OccurredAt: time.Now().UTC(),
		}
		if op == "enable" {
			event.ProxyName = "default"
		}
		if err := pub.PublishToggle(ctx, event); err != nil {
			t.Errorf("PublishToggle %s: %v", op, err)
		}
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	pub := skipIfNoNATS(t)
	if err := pub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// A second Close on a draining connection must not panic.
	_ = pub.Close()
}
