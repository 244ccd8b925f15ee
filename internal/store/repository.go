package store

import (
	"context"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

// ToggleRecord is one entry in the interception audit trail.
type ToggleRecord struct {
	ServiceID string    `json:"service_id"`
	Operation string    `json:"operation"` // "enable" or "disable"
	ProxyName string    `json:"proxy_name,omitempty"`
	RouteID   string    `json:"route_id"`
	At        time.Time `json:"at"`
}

// Repository persists observability data about the registry: the last known
// state per service and a bounded toggle history. The registry's in-memory
// map stays the single source of truth; nothing here feeds back into
// reconciliation decisions.
// Implementation: Valkey (Redis-compatible).
type Repository interface {
	// Last-known state per service.
	SaveStatus(ctx context.Context, status domain.ServiceStatus) error
	GetStatus(ctx context.Context, id string) (*domain.ServiceStatus, error)
	DeleteStatus(ctx context.Context, id string) error
	ListStatuses(ctx context.Context) ([]domain.ServiceStatus, error)

	// Toggle audit trail, newest first, trimmed to a configured maximum.
	AppendToggle(ctx context.Context, rec ToggleRecord) error
	RecentToggles(ctx context.Context, n int) ([]ToggleRecord, error)

	// Health
	Ping(ctx context.Context) error

	Close()
}
