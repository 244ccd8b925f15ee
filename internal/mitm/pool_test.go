package mitm

import (
	"errors"
	"testing"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

func TestNewPool_DefaultAlias(t *testing.T) {
	pool, err := NewPool([]config.NamedProxy{
		{Name: "primary", Instance: domain.ProxyInstance{Host: "127.0.0.1", Port: 8080, WebPort: 8081}},
		{Name: "secondary", Instance: domain.ProxyInstance{Host: "127.0.0.1", Port: 9080, WebPort: 9081}},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	def, err := pool.Get(DefaultProxyName)
	if err != nil {
		t.Fatalf("Get(default): %v", err)
	}
	primary, err := pool.Get("primary")
	if err != nil {
		t.Fatalf("Get(primary): %v", err)
	}
	if def != primary {
		t.Errorf("default = %+v, want alias of primary %+v", def, primary)
	}

	names := pool.Names()
	found := false
	for _, n := range names {
		if n == DefaultProxyName {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, want it to include %q", names, DefaultProxyName)
	}
}

func TestNewPool_ExplicitDefault(t *testing.T) {
	pool, err := NewPool([]config.NamedProxy{
		{Name: "primary", Instance: domain.ProxyInstance{Host: "a", Port: 1, WebPort: 2}},
		{Name: "default", Instance: domain.ProxyInstance{Host: "b", Port: 3, WebPort: 4}},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	def, err := pool.Get(DefaultProxyName)
	if err != nil {
		t.Fatalf("Get(default): %v", err)
	}
	if def.Host != "b" {
		t.Errorf("default Host = %s, want the explicit entry, not the alias", def.Host)
	}
}

func TestNewPool_Empty(t *testing.T) {
	_, err := NewPool(nil)
	if !errors.Is(err, domain.ErrEmptyProxyPool) {
		t.Errorf("error = %v, want ErrEmptyProxyPool", err)
	}
}

func TestNewPool_Duplicate(t *testing.T) {
	_, err := NewPool([]config.NamedProxy{
		{Name: "a", Instance: domain.ProxyInstance{Host: "x", Port: 1, WebPort: 2}},
		{Name: "a", Instance: domain.ProxyInstance{Host: "y", Port: 3, WebPort: 4}},
	})
	if err == nil {
		t.Error("duplicate name should error")
	}
}

func TestPool_Get(t *testing.T) {
	pool, err := NewPool([]config.NamedProxy{
		{Name: "primary", Instance: domain.ProxyInstance{Host: "127.0.0.1", Port: 8080, WebPort: 8081}},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	// Empty name resolves to the default.
	inst, err := pool.Get("")
	if err != nil {
		t.Fatalf("Get(\"\"): %v", err)
	}
	if inst.Dial() != "127.0.0.1:8080" {
		t.Errorf("Dial = %s, want 127.0.0.1:8080", inst.Dial())
	}

	_, err = pool.Get("missing")
	if !errors.Is(err, domain.ErrUnknownProxy) {
		t.Errorf("error = %v, want ErrUnknownProxy", err)
	}
}
