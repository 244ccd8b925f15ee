// Package mitm owns the interception registry: which services exist, whether
// their traffic currently flows through an intercepting proxy, and the route
// swaps that keep the remote Caddy configuration in line with that state.
package mitm

import (
	"fmt"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

// DefaultProxyName is the pool key every lookup can fall back to.
const DefaultProxyName = "default"

// Pool is a validated, read-only lookup table of intercepting-proxy
// instances. When no entry is named "default", the first supplied entry is
// aliased under that name so omitting a proxy name always resolves.
type Pool struct {
	entries map[string]domain.ProxyInstance
	names   []string
}

// NewPool builds a pool from ordered entries. At least one entry is
// mandatory: enable has nothing to point at otherwise.
func NewPool(proxies []config.NamedProxy) (*Pool, error) {
	if len(proxies) == 0 {
		return nil, domain.ErrEmptyProxyPool
	}

	p := &Pool{
		entries: make(map[string]domain.ProxyInstance, len(proxies)+1),
	}
	for _, np := range proxies {
		if np.Name == "" {
			return nil, fmt.Errorf("proxy entry with empty name (address %s)", np.Instance.Dial())
		}
		if _, dup := p.entries[np.Name]; dup {
			return nil, fmt.Errorf("duplicate proxy name %q", np.Name)
		}
		p.entries[np.Name] = np.Instance
		p.names = append(p.names, np.Name)
	}

	if _, ok := p.entries[DefaultProxyName]; !ok {
		p.entries[DefaultProxyName] = proxies[0].Instance
		p.names = append(p.names, DefaultProxyName)
	}

	return p, nil
}

// Get looks up a proxy instance by name. An empty name resolves to the
// default entry.
func (p *Pool) Get(name string) (domain.ProxyInstance, error) {
	if name == "" {
		name = DefaultProxyName
	}
	inst, ok := p.entries[name]
	if !ok {
		return domain.ProxyInstance{}, fmt.Errorf("%w: %s", domain.ErrUnknownProxy, name)
	}
	return inst, nil
}

// Names returns all resolvable proxy names, the default alias included.
func (p *Pool) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}
