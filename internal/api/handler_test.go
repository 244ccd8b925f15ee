package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/caddy"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/mitm"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/store"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
)

// fakeRoutes satisfies mitm.RouteStore without a Caddy instance.
type fakeRoutes struct {
	mu     sync.Mutex
	routes map[string]caddy.Route
	addErr error
}

func (f *fakeRoutes) AddRoute(ctx context.Context, serverID string, route caddy.Route) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return false, f.addErr
	}
	if f.routes == nil {
		f.routes = make(map[string]caddy.Route)
	}
	if _, ok := f.routes[route.ID]; ok {
		return false, nil
	}
	f.routes[route.ID] = route
	return true, nil
}

func (f *fakeRoutes) RemoveRouteByID(ctx context.Context, serverID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.routes[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRouteNotFound, id)
	}
	delete(f.routes, id)
	return nil
}

// fakeRepo is an in-memory store.Repository for the history endpoint.
type fakeRepo struct {
	mu      sync.Mutex
	toggles []store.ToggleRecord
}

func (f *fakeRepo) SaveStatus(ctx context.Context, status domain.ServiceStatus) error { return nil }
func (f *fakeRepo) GetStatus(ctx context.Context, id string) (*domain.ServiceStatus, error) {
	return nil, store.ErrStatusNotFound
}
func (f *fakeRepo) DeleteStatus(ctx context.Context, id string) error { return nil }
func (f *fakeRepo) ListStatuses(ctx context.Context) ([]domain.ServiceStatus, error) {
	return nil, nil
}
func (f *fakeRepo) AppendToggle(ctx context.Context, rec store.ToggleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, rec)
	return nil
}
func (f *fakeRepo) RecentToggles(ctx context.Context, n int) ([]store.ToggleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.toggles) {
		n = len(f.toggles)
	}
	out := make([]store.ToggleRecord, n)
	copy(out, f.toggles[len(f.toggles)-n:])
	return out, nil
}
func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close()                         {}

var _ store.Repository = (*fakeRepo)(nil)

func testHandler(t *testing.T, routes mitm.RouteStore, repo store.Repository, apiKey string) *Handler {
	t.Helper()

	pool, err := mitm.NewPool([]config.NamedProxy{
		{Name: "primary", Instance: domain.ProxyInstance{Host: "127.0.0.1", Port: 8080, WebPort: 8081}},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	logger := logging.Nop()
	registry := mitm.NewRegistry(routes, pool, repo, nil, logger, nil)

	cfg := &config.Config{APIKey: apiKey}
	return NewHandler(cfg, registry, nil, repo, metrics.NewCollector(), logger)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerBody(id string) map[string]any {
	return map[string]any{
		"id":        id,
		"server_id": "srv0",
		"host":      id + ".local",
		"backend":   map[string]any{"host": id, "port": 9200},
	}
}

func TestHandler_RegisterAndStatus(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("elastic"))
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/services/elastic", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var status domain.ServiceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Enabled {
		t.Error("freshly registered service reported enabled")
	}
	if status.Registration.ID != "elastic" {
		t.Errorf("ID = %s, want elastic", status.Registration.ID)
	}
}

func TestHandler_RegisterValidation(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	// Missing backend.
	w := doJSON(t, router, http.MethodPost, "/api/v1/services", map[string]any{
		"id": "x", "server_id": "srv0", "host": "x.local",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing backend status = %d, want 400", w.Code)
	}

	// Neither host nor path prefix.
	w = doJSON(t, router, http.MethodPost, "/api/v1/services", map[string]any{
		"id": "x", "server_id": "srv0",
		"backend": map[string]any{"host": "x", "port": 80},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing selector status = %d, want 400", w.Code)
	}
}

func TestHandler_EnableDisable(t *testing.T) {
	routes := &fakeRoutes{}
	h := testHandler(t, routes, nil, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("elastic"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/enable", map[string]any{"proxy": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body = %s", w.Code, w.Body)
	}

	var status domain.ServiceStatus
	json.Unmarshal(w.Body.Bytes(), &status)
	if !status.Enabled || status.ProxyName != mitm.DefaultProxyName {
		t.Errorf("status = %+v, want enabled via default", status)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body = %s", w.Code, w.Body)
	}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Enabled {
		t.Error("still enabled after disable")
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	routes := &fakeRoutes{}
	h := testHandler(t, routes, nil, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("elastic"))

	// Unknown service -> 404.
	w := doJSON(t, router, http.MethodPost, "/api/v1/services/ghost/enable", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown service status = %d, want 404", w.Code)
	}

	// Unknown proxy -> 400.
	w = doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/enable", map[string]any{"proxy": "ghost"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown proxy status = %d, want 400", w.Code)
	}

	// Admin API failure -> 502.
	routes.addErr = &domain.APIError{StatusCode: 500, Method: "POST", URL: "http://caddy"}
	w = doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/enable", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("admin failure status = %d, want 502", w.Code)
	}

	routes.addErr = &domain.NetworkError{Method: "POST", URL: "http://caddy", Err: fmt.Errorf("refused")}
	w = doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/enable", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("network failure status = %d, want 502", w.Code)
	}
}

func TestHandler_UnregisterService(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("elastic"))

	w := doJSON(t, router, http.MethodDelete, "/api/v1/services/elastic", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/services/elastic", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestHandler_EnableAll(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("a"))
	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("b"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/services/enable-all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("enable-all status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		Services []domain.ServiceStatus `json:"services"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Services) != 2 {
		t.Fatalf("services length = %d, want 2", len(resp.Services))
	}
	for _, s := range resp.Services {
		if !s.Enabled {
			t.Errorf("%s not enabled", s.Registration.ID)
		}
	}
}

func TestHandler_EnableAllPartialFailure(t *testing.T) {
	routes := &fakeRoutes{}
	h := testHandler(t, routes, nil, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("a"))

	routes.addErr = &domain.APIError{StatusCode: 500, Method: "POST", URL: "http://caddy"}
	w := doJSON(t, router, http.MethodPost, "/api/v1/services/enable-all", nil)
	if w.Code != http.StatusMultiStatus {
		t.Errorf("partial failure status = %d, want 207", w.Code)
	}
}

func TestHandler_ListProxies(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/proxies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proxies status = %d", w.Code)
	}

	var resp struct {
		Proxies map[string]domain.ProxyInstance `json:"proxies"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if _, ok := resp.Proxies[mitm.DefaultProxyName]; !ok {
		t.Errorf("proxies = %v, want a default entry", resp.Proxies)
	}
	if _, ok := resp.Proxies["primary"]; !ok {
		t.Errorf("proxies = %v, want a primary entry", resp.Proxies)
	}
}

func TestHandler_History(t *testing.T) {
	repo := &fakeRepo{}
	routes := &fakeRoutes{}
	h := testHandler(t, routes, repo, "")
	router := h.Router()

	doJSON(t, router, http.MethodPost, "/api/v1/services", registerBody("elastic"))
	doJSON(t, router, http.MethodPost, "/api/v1/services/elastic/enable", nil)

	w := doJSON(t, router, http.MethodGet, "/api/v1/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		History []store.ToggleRecord `json:"history"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(resp.History))
	}
	rec := resp.History[0]
	if rec.ServiceID != "elastic" || rec.Operation != "enable" || rec.RouteID != "mitm_elastic" {
		t.Errorf("record = %+v", rec)
	}
	if time.Since(rec.At) > time.Minute {
		t.Errorf("record At = %v, want recent", rec.At)
	}
}

func TestHandler_HistoryWithoutStore(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/history", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("history status = %d, want 501 without a store", w.Code)
	}
}

func TestHandler_Health(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("mitm_")) {
		t.Error("metrics output missing mitm_ namespace")
	}
}

// adminMock serves the TLS-automation subject list and PKI CA endpoints of
// the admin API.
type adminMock struct {
	mu       sync.Mutex
	subjects []string
	rootPEM  string
}

func (m *adminMock) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config/apps/tls/automation/policies/0/subjects", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(m.subjects)
		case http.MethodPatch:
			var subjects []string
			_ = json.NewDecoder(r.Body).Decode(&subjects)
			m.subjects = subjects
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/pki/ca/local", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":               "local",
			"name":             "Local Authority",
			"root_certificate": m.rootPEM,
		})
	})
	return mux
}

func testHandlerWithAdmin(t *testing.T, admin *adminMock) *Handler {
	t.Helper()

	srv := httptest.NewServer(admin.handler())
	t.Cleanup(srv.Close)

	client := caddy.NewClient(&config.CaddyConfig{
		AdminURL: srv.URL,
		ServerID: "srv0",
		Timeout:  2 * time.Second,
	}, logging.Nop(), nil)

	pool, err := mitm.NewPool([]config.NamedProxy{
		{Name: "primary", Instance: domain.ProxyInstance{Host: "127.0.0.1", Port: 8080, WebPort: 8081}},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	logger := logging.Nop()
	registry := mitm.NewRegistry(&fakeRoutes{}, pool, nil, nil, logger, nil)
	return NewHandler(&config.Config{}, registry, client, nil, metrics.NewCollector(), logger)
}

func TestHandler_Domains(t *testing.T) {
	admin := &adminMock{subjects: []string{"a.example.com"}}
	router := testHandlerWithAdmin(t, admin).Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/domains", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("a.example.com")) {
		t.Errorf("list body = %s, want a.example.com", w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/domains", map[string]string{"domain": "b.example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", w.Code)
	}
	if got := admin.subjects; len(got) != 2 || got[1] != "b.example.com" {
		t.Errorf("subjects after add = %v", got)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/domains", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("add without domain status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/domains/a.example.com", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", w.Code)
	}
	if got := admin.subjects; len(got) != 1 || got[0] != "b.example.com" {
		t.Errorf("subjects after remove = %v", got)
	}
}

func TestHandler_CACertificates(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Local Authority - R1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	rootPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	router := testHandlerWithAdmin(t, &adminMock{rootPEM: rootPEM}).Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/ca", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ca status = %d, want 200", w.Code)
	}

	var resp struct {
		Certificates []caddy.CertInfo `json:"certificates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(resp.Certificates))
	}
	if got := resp.Certificates[0].Subject; got != "CN=Local Authority - R1" {
		t.Errorf("subject = %q", got)
	}
	if !resp.Certificates[0].IsCA {
		t.Error("IsCA = false, want true")
	}
}

func TestHandler_DomainsWithoutAdminClient(t *testing.T) {
	h := testHandler(t, &fakeRoutes{}, nil, "")
	router := h.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/domains", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("domains status = %d, want 501", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/ca", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("ca status = %d, want 501", w.Code)
	}
}
