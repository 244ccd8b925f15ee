package events

import (
	"context"
	"time"
)

// ToggleEvent announces one successful interception state change.
type ToggleEvent struct {
	EventID    string    `json:"event_id"`
	ServiceID  string    `json:"service_id"`
	Operation  string    `json:"operation"` // "enable" or "disable"
	ProxyName  string    `json:"proxy_name,omitempty"`
	RouteID    string    `json:"route_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher defines the interface for publishing toggle events.
// Implementation: NATS JetStream.
type Publisher interface {
	// PublishToggle publishes a state-change event. Best-effort from the
	// registry's point of view: a publish failure never rolls a toggle back.
	PublishToggle(ctx context.Context, event ToggleEvent) error

	// Close closes the publisher connection.
	Close() error
}
