// Package caddy talks to the Caddy admin API and builds the route documents
// it consumes.
package caddy

import (
	"strings"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

// routeIDPrefix namespaces route @ids owned by this system so removal by id
// never touches routes created by other tooling.
const routeIDPrefix = "mitm_"

// RouteID returns the deterministic @id for a service's route.
func RouteID(serviceID string) string {
	return routeIDPrefix + serviceID
}

// Route is a Caddy route document. The @id makes later removal reliable;
// Terminal stops evaluation of subsequent routes for a matched request.
type Route struct {
	ID       string    `json:"@id,omitempty"`
	Match    []Match   `json:"match,omitempty"`
	Handle   []Handler `json:"handle"`
	Terminal bool      `json:"terminal,omitempty"`
	Priority int       `json:"priority,omitempty"`
}

// Match is a Caddy request matcher. Host and Path are mutually informative:
// exactly one is set for routes built here.
type Match struct {
	Host []string `json:"host,omitempty"`
	Path []string `json:"path,omitempty"`
}

// Handler is a Caddy handler document discriminated by the Handler field.
// Only the fields belonging to the named handler kind are populated; the
// rest stay zero and are omitted from the JSON.
type Handler struct {
	Handler string `json:"handler"`

	// reverse_proxy
	Upstreams     []Upstream     `json:"upstreams,omitempty"`
	Transport     *Transport     `json:"transport,omitempty"`
	LoadBalancing *LoadBalancing `json:"load_balancing,omitempty"`
	HealthChecks  *HealthChecks  `json:"health_checks,omitempty"`

	// subroute
	Routes []Route `json:"routes,omitempty"`

	// rewrite
	StripPathPrefix string `json:"strip_path_prefix,omitempty"`

	// headers
	Response *HeaderOps `json:"response,omitempty"`

	// static_response
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"`
}

// Upstream is a reverse_proxy dial target.
type Upstream struct {
	Dial string `json:"dial"`
}

// Transport configures the reverse_proxy's upstream transport.
type Transport struct {
	Protocol string        `json:"protocol"`
	TLS      *TLSTransport `json:"tls,omitempty"`
}

// TLSTransport is the TLS policy applied when dialing upstreams.
type TLSTransport struct {
	ServerName         string   `json:"server_name,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"`
	RootCAPEMFiles     []string `json:"root_ca_pem_files,omitempty"`
}

// LoadBalancing selects among multiple upstreams.
type LoadBalancing struct {
	SelectionPolicy SelectionPolicy `json:"selection_policy"`
}

// SelectionPolicy names the load-balancing policy.
type SelectionPolicy struct {
	Policy string `json:"policy"`
}

// HealthChecks configures active upstream health checking.
type HealthChecks struct {
	Active *ActiveHealthCheck `json:"active,omitempty"`
}

// ActiveHealthCheck polls upstreams on an interval.
type ActiveHealthCheck struct {
	Path     string `json:"path,omitempty"`
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// HeaderOps sets and deletes response headers.
type HeaderOps struct {
	Set    map[string][]string `json:"set,omitempty"`
	Delete []string            `json:"delete,omitempty"`
}

// HostMatch builds an exact-hostname matcher.
func HostMatch(host string) []Match {
	return []Match{{Host: []string{host}}}
}

// PathPrefixMatch builds a wildcard path-prefix matcher. "/es" and "/es/"
// both yield ["/es/*"].
func PathPrefixMatch(prefix string) []Match {
	return []Match{{Path: []string{strings.TrimSuffix(prefix, "/") + "/*"}}}
}

// ReverseProxyOptions configures BuildReverseProxy. An "https://" prefix on
// an upstream address enables the TLS transport automatically; the explicit
// TLS fields force or refine it.
type ReverseProxyOptions struct {
	Upstreams             []string
	TLSServerName         string
	TLSInsecureSkipVerify bool
	TLSTrustedCAFiles     []string
}

// BuildReverseProxy builds a reverse_proxy handler. Output is deterministic
// for identical inputs; the idempotence check in AddRoute depends on that.
func BuildReverseProxy(opts ReverseProxyOptions) Handler {
	needTLS := opts.TLSServerName != "" || opts.TLSInsecureSkipVerify || len(opts.TLSTrustedCAFiles) > 0

	upstreams := make([]Upstream, 0, len(opts.Upstreams))
	for _, addr := range opts.Upstreams {
		if strings.HasPrefix(addr, "https://") {
			needTLS = true
		}
		upstreams = append(upstreams, Upstream{Dial: trimScheme(addr)})
	}

	h := Handler{
		Handler:   "reverse_proxy",
		Upstreams: upstreams,
	}
	if needTLS {
		h.Transport = &Transport{
			Protocol: "http",
			TLS: &TLSTransport{
				ServerName:         opts.TLSServerName,
				InsecureSkipVerify: opts.TLSInsecureSkipVerify,
				RootCAPEMFiles:     opts.TLSTrustedCAFiles,
			},
		}
	}
	return h
}

// BuildLoadBalancedProxy builds a reverse_proxy handler spreading load over
// several upstreams with active health checking.
func BuildLoadBalancedProxy(upstreams []string, policy, healthPath string) Handler {
	h := BuildReverseProxy(ReverseProxyOptions{Upstreams: upstreams})
	if policy == "" {
		policy = "round_robin"
	}
	h.LoadBalancing = &LoadBalancing{SelectionPolicy: SelectionPolicy{Policy: policy}}
	if healthPath != "" {
		h.HealthChecks = &HealthChecks{
			Active: &ActiveHealthCheck{
				Path:     healthPath,
				Interval: "10s",
				Timeout:  "5s",
			},
		}
	}
	return h
}

// BuildSecurityHeaders builds a headers handler applying the standard
// hardening set.
func BuildSecurityHeaders() Handler {
	return Handler{
		Handler: "headers",
		Response: &HeaderOps{
			Set: map[string][]string{
				"Strict-Transport-Security": {"max-age=31536000; includeSubDomains"},
				"X-Content-Type-Options":    {"nosniff"},
				"X-Frame-Options":           {"DENY"},
				"Referrer-Policy":           {"strict-origin-when-cross-origin"},
			},
			Delete: []string{"Server", "X-Powered-By"},
		},
	}
}

// BuildStripPrefix builds a rewrite handler removing a path prefix before
// the request reaches the upstream.
func BuildStripPrefix(prefix string) Handler {
	return Handler{
		Handler:         "rewrite",
		StripPathPrefix: strings.TrimSuffix(prefix, "/"),
	}
}

// BuildStaticResponse builds a static_response handler.
func BuildStaticResponse(status int, headers map[string][]string, body string) Handler {
	return Handler{
		Handler:    "static_response",
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}
}

// BuildRedirect builds a redirecting static_response. Permanent redirects use
// 308 and temporary ones 307: both preserve method and body, which matters
// for API-style destinations where a legacy 301/302 would downgrade to GET.
func BuildRedirect(location string, permanent bool) Handler {
	status := 307
	if permanent {
		status = 308
	}
	return BuildStaticResponse(status, map[string][]string{"Location": {location}}, "")
}

// ServiceRoute builds the route document for a registered service pointing
// at the given upstream dial address. Enable and disable both go through
// here so the two documents differ only in the dial: path-based selectors
// carry the same strip-prefix rewrite in both modes, keeping request
// semantics identical whichever side of the toggle is active.
func ServiceRoute(reg domain.ServiceRegistration, dial string) Route {
	var match []Match
	var handle []Handler

	if reg.HostBased() {
		match = HostMatch(reg.Host)
	} else {
		match = PathPrefixMatch(reg.PathPrefix)
		handle = append(handle, BuildStripPrefix(reg.PathPrefix))
	}

	handle = append(handle, BuildReverseProxy(ReverseProxyOptions{Upstreams: []string{dial}}))

	return Route{
		ID:       RouteID(reg.ID),
		Match:    match,
		Handle:   handle,
		Terminal: true,
	}
}

func trimScheme(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	return addr
}
