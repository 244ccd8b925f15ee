package mitm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/caddy"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/events"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/store"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
	"github.com/google/uuid"
)

// RouteStore is the slice of the admin client the registry needs to swap
// routes. Satisfied by *caddy.Client.
type RouteStore interface {
	AddRoute(ctx context.Context, serverID string, route caddy.Route) (bool, error)
	RemoveRouteByID(ctx context.Context, serverID, id string) error
}

// Registry is the single source of truth for each service's interception
// state and the only component that decides when to push a route change.
//
// Per service the states are Unregistered -> Disabled <-> Enabled(proxy).
// A toggle performs remove-then-add against the admin API: ordering removal
// first trades a brief no-route gap for never having two routes claim the
// same request, since the remote side evaluates routes first-match-wins and
// offers no atomic replace.
type Registry struct {
	routes RouteStore
	pool   *Pool

	repo    store.Repository // optional, observability write-through
	events  events.Publisher // optional, best-effort
	logger  *logging.Logger
	metrics *metrics.Collector // optional

	mu       sync.RWMutex
	services map[string]*serviceEntry
	order    []string // registration order, drives EnableAll/DisableAll
}

// serviceEntry pairs a registration with its state. The entry mutex
// serializes toggles for one id; toggles for different ids interleave
// freely and keep last-write-wins semantics.
type serviceEntry struct {
	mu    sync.Mutex
	reg   domain.ServiceRegistration
	state domain.InterceptionState
}

// NewRegistry creates a registry with injected dependencies. repo, pub and m
// may be nil; the registry then skips snapshots, events or metrics.
func NewRegistry(
	routes RouteStore,
	pool *Pool,
	repo store.Repository,
	pub events.Publisher,
	logger *logging.Logger,
	m *metrics.Collector,
) *Registry {
	return &Registry{
		routes:   routes,
		pool:     pool,
		repo:     repo,
		events:   pub,
		logger:   logger.With("component", "registry"),
		metrics:  m,
		services: make(map[string]*serviceEntry),
	}
}

// Register stores or replaces the registration for reg.ID and resets its
// state to disabled. No network I/O happens here. An existing id is silently
// replaced: intentional overwrite semantics, chosen over guarding against
// accidental double registration.
func (r *Registry) Register(reg domain.ServiceRegistration) {
	r.mu.Lock()
	if _, exists := r.services[reg.ID]; !exists {
		r.order = append(r.order, reg.ID)
	}
	// Replacing also discards any enabled state: the new registration starts
	// disabled until Enable is called again.
	r.services[reg.ID] = &serviceEntry{reg: reg}
	r.mu.Unlock()

	r.logger.Info("service registered", "serviceID", reg.ID, "server", reg.ServerID)
	r.updateGauges()
}

// Unregister removes the in-memory entry and reports whether one existed.
// The remote route is left as-is: callers wanting the remote side cleaned up
// disable before unregistering.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.services[id]
	if ok {
		delete(r.services, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	if r.repo != nil {
		if err := r.repo.DeleteStatus(context.Background(), id); err != nil {
			r.logger.Warn("failed to delete status snapshot", "serviceID", id, "error", err)
		}
	}

	r.logger.Info("service unregistered", "serviceID", id)
	r.updateGauges()
	return true
}

// Enable routes the service's traffic through the named intercepting proxy
// (empty name means the pool default). Logic errors are raised before any
// network call; local state flips only after the add half of the swap
// succeeds, so a failed push never claims success.
func (r *Registry) Enable(ctx context.Context, id, proxyName string) error {
	if proxyName == "" {
		proxyName = DefaultProxyName
	}

	entry, err := r.lookup(id)
	if err != nil {
		return err
	}
	proxy, err := r.pool.Get(proxyName)
	if err != nil {
		return err
	}

	return r.toggle(ctx, entry, "enable", proxy.Dial(), proxyName)
}

// Disable restores direct routing to the service's registered backend. The
// document shape mirrors Enable's exactly apart from the upstream dial, so
// toggling never changes observable request semantics beyond whether the
// intercepting proxy is in the path.
func (r *Registry) Disable(ctx context.Context, id string) error {
	entry, err := r.lookup(id)
	if err != nil {
		return err
	}
	return r.toggle(ctx, entry, "disable", entry.reg.Backend.Dial(), "")
}

// toggle performs one serialized state transition: build the document for
// the target dial, swap it in remotely, then flip local state as a unit.
func (r *Registry) toggle(ctx context.Context, entry *serviceEntry, op, dial, proxyName string) error {
	start := time.Now()

	entry.mu.Lock()
	route := caddy.ServiceRoute(entry.reg, dial)
	if err := r.swap(ctx, entry.reg.ServerID, route); err != nil {
		entry.mu.Unlock()
		r.observeToggle(op, "error", start)
		return err
	}

	// Updated as a unit; no observable instant has Enabled set without a
	// proxy name or the other way round.
	entry.state = domain.InterceptionState{Enabled: op == "enable", ProxyName: proxyName}
	status := statusOf(entry)
	entry.mu.Unlock()

	r.observeToggle(op, "success", start)
	r.logger.Info("interception toggled", "serviceID", status.Registration.ID, "operation", op, "proxy", proxyName)
	r.afterToggle(ctx, status, op, proxyName)
	r.updateGauges()
	return nil
}

// EnableAll enables every registered service in registration order. A
// failure on one service does not stop the rest; the per-service errors are
// joined and returned.
func (r *Registry) EnableAll(ctx context.Context, proxyName string) error {
	var errs []error
	for _, id := range r.registeredIDs() {
		if err := r.Enable(ctx, id, proxyName); err != nil {
			errs = append(errs, fmt.Errorf("enable %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// DisableAll disables every registered service in registration order,
// best-effort like EnableAll.
func (r *Registry) DisableAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.registeredIDs() {
		if err := r.Disable(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether the service is currently intercepted. Unknown
// ids are simply not enabled; no error.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	entry, ok := r.services[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Enabled
}

// Status returns the status of one service and whether it is registered.
func (r *Registry) Status(id string) (domain.ServiceStatus, bool) {
	r.mu.RLock()
	entry, ok := r.services[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ServiceStatus{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return statusOf(entry), true
}

// StatusAll returns the status of every service in registration order.
func (r *Registry) StatusAll() []domain.ServiceStatus {
	r.mu.RLock()
	entries := make([]*serviceEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.services[id])
	}
	r.mu.RUnlock()

	out := make([]domain.ServiceStatus, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, statusOf(entry))
		entry.mu.Unlock()
	}
	return out
}

// RegisteredServices returns the registered ids in registration order.
func (r *Registry) RegisteredServices() []string {
	return r.registeredIDs()
}

// AvailableProxies returns the resolvable proxy names, default alias
// included.
func (r *Registry) AvailableProxies() []string {
	return r.pool.Names()
}

// ProxyConfig returns the pool entry for a proxy name.
func (r *Registry) ProxyConfig(name string) (domain.ProxyInstance, error) {
	return r.pool.Get(name)
}

// swap pushes a route change: remove the old document by id, then add the
// new one. A not-found from the remove half is expected (first toggle for a
// service) and swallowed; any other removal failure is a real outage and
// propagates, so the swap never papers over an unreachable admin API.
func (r *Registry) swap(ctx context.Context, serverID string, route caddy.Route) error {
	if err := r.routes.RemoveRouteByID(ctx, serverID, route.ID); err != nil {
		if !errors.Is(err, domain.ErrRouteNotFound) {
			return err
		}
		r.logger.Debug("no existing route to remove", "routeID", route.ID)
	}

	if _, err := r.routes.AddRoute(ctx, serverID, route); err != nil {
		return err
	}
	return nil
}

// afterToggle handles the observability fan-out of a successful toggle:
// snapshot write-through and event publish, both best-effort.
func (r *Registry) afterToggle(ctx context.Context, status domain.ServiceStatus, op, proxyName string) {
	routeID := caddy.RouteID(status.Registration.ID)

	if r.repo != nil {
		if err := r.repo.SaveStatus(ctx, status); err != nil {
			r.logger.Warn("failed to save status snapshot", "serviceID", status.Registration.ID, "error", err)
		}
		rec := store.ToggleRecord{
			ServiceID: status.Registration.ID,
			Operation: op,
			ProxyName: proxyName,
			RouteID:   routeID,
			At:        time.Now().UTC(),
		}
		if err := r.repo.AppendToggle(ctx, rec); err != nil {
			r.logger.Warn("failed to append toggle record", "serviceID", status.Registration.ID, "error", err)
		}
	}

	if r.events != nil {
		event := events.ToggleEvent{
			EventID:    uuid.NewString(),
			ServiceID:  status.Registration.ID,
			Operation:  op,
			ProxyName:  proxyName,
			RouteID:    routeID,
			OccurredAt: time.Now().UTC(),
		}
		result := "success"
		if err := r.events.PublishToggle(ctx, event); err != nil {
			result = "error"
			r.logger.Warn("failed to publish toggle event", "serviceID", status.Registration.ID, "error", err)
		}
		if r.metrics != nil {
			r.metrics.EventsPublished.WithLabelValues(result).Inc()
		}
	}
}

func (r *Registry) lookup(id string) (*serviceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, id)
	}
	return entry, nil
}

func (r *Registry) registeredIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// updateGauges refreshes the registry gauges. Called with no locks held:
// it snapshots the entry set under the map lock, then reads each entry
// under its own mutex.
func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}

	r.mu.RLock()
	entries := make([]*serviceEntry, 0, len(r.services))
	for _, entry := range r.services {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	enabled := 0
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.state.Enabled {
			enabled++
		}
		entry.mu.Unlock()
	}
	r.metrics.RegisteredServices.Set(float64(len(entries)))
	r.metrics.InterceptedServices.Set(float64(enabled))
}

func (r *Registry) observeToggle(op, result string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToggleOpsTotal.WithLabelValues(op, result).Inc()
	r.metrics.ToggleDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func statusOf(entry *serviceEntry) domain.ServiceStatus {
	return domain.ServiceStatus{
		Enabled:      entry.state.Enabled,
		ProxyName:    entry.state.ProxyName,
		Registration: entry.reg,
	}
}

// Compile-time check that the admin client satisfies RouteStore.
var _ RouteStore = (*caddy.Client)(nil)
