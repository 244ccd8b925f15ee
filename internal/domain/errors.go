package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownService is returned when an operation references a service
	// id that was never registered.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownProxy is returned when a referenced proxy name is absent
	// from the pool.
	ErrUnknownProxy = errors.New("unknown proxy")

	// ErrRouteNotFound is returned when the admin API reports no route with
	// the requested @id. The registry swallows it during the remove half of
	// a swap; callers of the client see it directly.
	ErrRouteNotFound = errors.New("route not found")

	// ErrEmptyProxyPool is returned when constructing a pool with no entries.
	ErrEmptyProxyPool = errors.New("proxy pool requires at least one entry")

	// ErrProxyNotRunning is returned when a flow operation targets a proxy
	// whose process is not up.
	ErrProxyNotRunning = errors.New("proxy process not running")
)

// APIError is returned when the admin API responded with a non-success
// status. It carries the full request context for diagnosis.
type APIError struct {
	StatusCode int
	Body       string
	Method     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin API %s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// TimeoutError is returned when an admin API call exceeded the client's
// configured deadline.
type TimeoutError struct {
	Method  string
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("admin API %s %s timed out after %s", e.Method, e.URL, e.Timeout)
}

// NetworkError is returned on a transport-level failure reaching the admin
// API (connection refused, DNS failure, reset).
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("admin API %s %s unreachable: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
