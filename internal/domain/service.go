package domain

import "strconv"

// Backend is the real upstream address of a registered service.
type Backend struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Dial returns the backend address in Caddy upstream dial form.
func (b Backend) Dial() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// ServiceRegistration holds the identity and fixed routing facts of one
// logical service. Routing is host-based when Host is set, path-based
// otherwise.
type ServiceRegistration struct {
	ID         string  `json:"id"`
	ServerID   string  `json:"server_id"` // owning virtual server in the Caddy config tree
	Host       string  `json:"host,omitempty"`
	PathPrefix string  `json:"path_prefix,omitempty"`
	Backend    Backend `json:"backend"`
}

// HostBased reports whether the service routes by hostname.
func (r ServiceRegistration) HostBased() bool {
	return r.Host != ""
}

// InterceptionState is the mutable per-service toggle state. The pair is
// always updated as a unit: Enabled implies a non-empty ProxyName and vice
// versa.
type InterceptionState struct {
	Enabled   bool   `json:"enabled"`
	ProxyName string `json:"proxy_name,omitempty"`
}

// ServiceStatus is the read-model returned by status queries.
type ServiceStatus struct {
	Enabled      bool                `json:"enabled"`
	ProxyName    string              `json:"proxy_name,omitempty"`
	Registration ServiceRegistration `json:"registration"`
}

// ProxyInstance describes one intercepting proxy target: Port receives
// forwarded traffic, WebPort exposes the flow-inspection API.
type ProxyInstance struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WebPort int    `json:"web_port"`
}

// Dial returns the traffic-forwarding address in upstream dial form.
func (p ProxyInstance) Dial() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// WebAddr returns the flow-inspection API address.
func (p ProxyInstance) WebAddr() string {
	return p.Host + ":" + strconv.Itoa(p.WebPort)
}
