package caddy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// Position controls where InsertRoute places a route in the server's array.
type Position string

const (
	PositionBeginning Position = "beginning"
	PositionEnd       Position = "end"
)

// Server is a Caddy HTTP server definition, reduced to the fields this
// system reads and writes.
type Server struct {
	Listen []string `json:"listen,omitempty"`
	Routes []Route  `json:"routes"`
}

// Client wraps the Caddy admin API. Every call is bounded by the configured
// timeout and failures are translated into the typed errors in the domain
// package: *TimeoutError, *NetworkError, *APIError and ErrRouteNotFound.
type Client struct {
	adminURL   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// NewClient creates an admin API client. metrics may be nil.
func NewClient(cfg *config.CaddyConfig, logger *logging.Logger, m *metrics.Collector) *Client {
	return &Client{
		adminURL: strings.TrimSuffix(cfg.AdminURL, "/"),
		timeout:  cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.With("component", "caddy"),
		metrics: m,
	}
}

// GetConfig returns the full configuration document.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/config/", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(http.MethodGet, "/config/", status, body)
	}

	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// GetServers returns the map of virtual-server definitions.
func (c *Client) GetServers(ctx context.Context) (map[string]*Server, error) {
	const path = "/config/apps/http/servers"

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return map[string]*Server{}, nil
	}
	if status != http.StatusOK {
		return nil, c.apiError(http.MethodGet, path, status, body)
	}

	// The admin API answers 200 with a bare "null" when the path exists but
	// holds no value.
	if s := strings.TrimSpace(string(body)); s == "null" || s == "" {
		return map[string]*Server{}, nil
	}

	var servers map[string]*Server
	if err := json.Unmarshal(body, &servers); err != nil {
		return nil, fmt.Errorf("failed to decode servers: %w", err)
	}
	return servers, nil
}

// PatchServers replaces the whole server map. This is the bulk path; the
// per-route methods are what the registry uses in steady state.
func (c *Client) PatchServers(ctx context.Context, servers map[string]*Server) error {
	const path = "/config/apps/http/servers"

	data, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPatch, path, data)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.apiError(http.MethodPatch, path, status, body)
	}
	return nil
}

// AddRoute appends the route to the named server's route list unless a
// route with the same @id is already present. It reports whether the route
// was actually added, which makes a repeated call with an unchanged document
// a no-op rather than an error.
func (c *Client) AddRoute(ctx context.Context, serverID string, route Route) (bool, error) {
	start := time.Now()

	if route.ID != "" {
		_, err := c.getByID(ctx, route.ID)
		switch {
		case err == nil:
			c.observeRouteOp("add", "noop", start)
			return false, nil
		case !errors.Is(err, domain.ErrRouteNotFound):
			c.observeRouteOp("add", "error", start)
			return false, err
		}
	}

	path := fmt.Sprintf("/config/apps/http/servers/%s/routes", serverID)
	data, err := json.Marshal(route)
	if err != nil {
		return false, fmt.Errorf("failed to marshal route: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, path, data)
	if err != nil {
		c.observeRouteOp("add", "error", start)
		return false, err
	}
	if status != http.StatusOK {
		c.observeRouteOp("add", "error", start)
		return false, c.apiError(http.MethodPost, path, status, body)
	}

	c.observeRouteOp("add", "success", start)
	c.logger.Debug("route added", "server", serverID, "routeID", route.ID)
	return true, nil
}

// RemoveRouteByID removes the route with the given @id. Returns
// domain.ErrRouteNotFound when no such route exists, distinguishable from
// transport failures so callers can tolerate the expected-absent case
// without masking outages. The @id index spans servers; serverID is kept for
// log context.
func (c *Client) RemoveRouteByID(ctx context.Context, serverID, id string) error {
	start := time.Now()
	path := "/id/" + id

	body, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		c.observeRouteOp("remove", "error", start)
		return err
	}
	if status == http.StatusNotFound {
		c.observeRouteOp("remove", "not_found", start)
		return fmt.Errorf("%w: %s", domain.ErrRouteNotFound, id)
	}
	if status != http.StatusOK {
		c.observeRouteOp("remove", "error", start)
		return c.apiError(http.MethodDelete, path, status, body)
	}

	c.observeRouteOp("remove", "success", start)
	c.logger.Debug("route removed", "server", serverID, "routeID", id)
	return nil
}

// InsertRoute adds the route at a controlled array position for callers
// needing ordering stronger than append. PositionBeginning inserts before
// every existing route; PositionEnd behaves like AddRoute without the
// idempotence probe.
func (c *Client) InsertRoute(ctx context.Context, serverID string, route Route, pos Position) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}

	var path, method string
	switch pos {
	case PositionBeginning:
		// PUT at an array index inserts before that element.
		path = fmt.Sprintf("/config/apps/http/servers/%s/routes/0", serverID)
		method = http.MethodPut
	case PositionEnd:
		path = fmt.Sprintf("/config/apps/http/servers/%s/routes", serverID)
		method = http.MethodPost
	default:
		return fmt.Errorf("invalid insert position %q", pos)
	}

	body, status, err := c.do(ctx, method, path, data)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.apiError(method, path, status, body)
	}
	return nil
}

// RequestOptions configures a raw Request call.
type RequestOptions struct {
	Method string
	Body   any
}

// Request is the low-level escape hatch for arbitrary sub-tree reads and
// writes. It returns the raw response body; non-success statuses become an
// *APIError.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var data []byte
	if opts.Body != nil {
		var err error
		data, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	body, status, err := c.do(ctx, method, path, data)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, c.apiError(method, path, status, body)
	}
	return body, nil
}

// Health checks that the admin API is responding.
func (c *Client) Health(ctx context.Context) error {
	body, status, err := c.do(ctx, http.MethodGet, "/config/", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.apiError(http.MethodGet, "/config/", status, body)
	}
	return nil
}

// getByID fetches a route by @id, mapping 404 to ErrRouteNotFound.
func (c *Client) getByID(ctx context.Context, id string) (*Route, error) {
	path := "/id/" + id

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrRouteNotFound, id)
	}
	if status != http.StatusOK {
		return nil, c.apiError(http.MethodGet, path, status, body)
	}

	var route Route
	if err := json.Unmarshal(body, &route); err != nil {
		return nil, fmt.Errorf("failed to decode route: %w", err)
	}
	return &route, nil
}

// do performs one request and translates transport failures into the typed
// taxonomy. HTTP status handling is left to the caller.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	fullURL := c.adminURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, &domain.TimeoutError{Method: method, URL: fullURL, Timeout: c.timeout}
		}
		return nil, 0, &domain.NetworkError{Method: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &domain.NetworkError{Method: method, URL: fullURL, Err: err}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) apiError(method, path string, status int, body []byte) error {
	return &domain.APIError{
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
		Method:     method,
		URL:        c.adminURL + path,
	}
}

func (c *Client) observeRouteOp(op, result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RouteOpsTotal.WithLabelValues(op, result).Inc()
	switch op {
	case "add":
		c.metrics.RouteAddDuration.Observe(time.Since(start).Seconds())
	case "remove":
		c.metrics.RouteRemoveDuration.Observe(time.Since(start).Seconds())
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
