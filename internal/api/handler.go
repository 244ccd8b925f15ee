// Package api is the thin operator-facing HTTP front end over the registry.
// It maps requests onto registry calls and serializes statuses back to JSON;
// no reconciliation logic lives here.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/caddy"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/flows"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/mitm"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/store"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/pkg/logging"
	"github.com/gin-gonic/gin"
)

// Handler holds the HTTP handlers and dependencies.
type Handler struct {
	cfg      *config.Config
	registry *mitm.Registry
	caddy    *caddy.Client
	repo     store.Repository // optional
	metrics  *metrics.Collector
	logger   *logging.Logger
}

// NewHandler creates a new API handler. repo may be nil, disabling the
// history endpoint.
func NewHandler(cfg *config.Config, registry *mitm.Registry, client *caddy.Client, repo store.Repository, m *metrics.Collector, logger *logging.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		caddy:    client,
		repo:     repo,
		metrics:  m,
		logger:   logger.With("component", "api"),
	}
}

// Router returns the configured Gin router.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestMetrics(h.metrics))

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(h.cfg.APIKey))
	{
		services := v1.Group("/services")
		{
			services.POST("", h.registerService)
			services.GET("", h.listServices)
			services.GET("/:id", h.serviceStatus)
			services.DELETE("/:id", h.unregisterService)
			services.POST("/:id/enable", h.enableService)
			services.POST("/:id/disable", h.disableService)
			services.POST("/enable-all", h.enableAll)
			services.POST("/disable-all", h.disableAll)
		}

		proxies := v1.Group("/proxies")
		{
			proxies.GET("", h.listProxies)
			proxies.GET("/:name/flows", h.listFlows)
			proxies.DELETE("/:name/flows", h.clearFlows)
		}

		domains := v1.Group("/domains")
		{
			domains.GET("", h.listDomains)
			domains.POST("", h.addDomain)
			domains.DELETE("/:domain", h.removeDomain)
		}

		v1.GET("/ca", h.caCertificates)
		v1.GET("/history", h.history)
	}

	return r
}

// health returns a simple health check response.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"services": len(h.registry.RegisteredServices()),
	})
}

type registerRequest struct {
	ID         string `json:"id" binding:"required"`
	ServerID   string `json:"server_id" binding:"required"`
	Host       string `json:"host"`
	PathPrefix string `json:"path_prefix"`
	Backend    struct {
		Host string `json:"host" binding:"required"`
		Port int    `json:"port" binding:"required"`
	} `json:"backend" binding:"required"`
}

// registerService registers or replaces a service.
func (h *Handler) registerService(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_BODY"})
		return
	}
	if req.Host == "" && req.PathPrefix == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "either host or path_prefix is required",
			Code:  "INVALID_SELECTOR",
		})
		return
	}

	h.registry.Register(domain.ServiceRegistration{
		ID:         req.ID,
		ServerID:   req.ServerID,
		Host:       req.Host,
		PathPrefix: req.PathPrefix,
		Backend:    domain.Backend{Host: req.Backend.Host, Port: req.Backend.Port},
	})

	status, _ := h.registry.Status(req.ID)
	c.JSON(http.StatusCreated, status)
}

// listServices returns every service's status in registration order.
func (h *Handler) listServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": h.registry.StatusAll()})
}

// serviceStatus returns one service's status.
func (h *Handler) serviceStatus(c *gin.Context) {
	status, ok := h.registry.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown service", Code: "UNKNOWN_SERVICE"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// unregisterService removes a service from the registry. The remote route
// is left in place; disable first for remote cleanup.
func (h *Handler) unregisterService(c *gin.Context) {
	if !h.registry.Unregister(c.Param("id")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown service", Code: "UNKNOWN_SERVICE"})
		return
	}
	c.Status(http.StatusNoContent)
}

type enableRequest struct {
	Proxy string `json:"proxy"`
}

// enableService routes one service through an intercepting proxy.
func (h *Handler) enableService(c *gin.Context) {
	// The body is optional; an absent or empty proxy means the default.
	var req enableRequest
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	if err := h.registry.Enable(c.Request.Context(), id, req.Proxy); err != nil {
		h.writeToggleError(c, err)
		return
	}

	status, _ := h.registry.Status(id)
	c.JSON(http.StatusOK, status)
}

// disableService restores direct routing for one service.
func (h *Handler) disableService(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Disable(c.Request.Context(), id); err != nil {
		h.writeToggleError(c, err)
		return
	}

	status, _ := h.registry.Status(id)
	c.JSON(http.StatusOK, status)
}

// enableAll enables every service, best-effort. Partial failure still
// returns the batch outcome with 207-style detail in the body.
func (h *Handler) enableAll(c *gin.Context) {
	var req enableRequest
	_ = c.ShouldBindJSON(&req)

	err := h.registry.EnableAll(c.Request.Context(), req.Proxy)
	h.writeBatchResult(c, err)
}

// disableAll disables every service, best-effort.
func (h *Handler) disableAll(c *gin.Context) {
	err := h.registry.DisableAll(c.Request.Context())
	h.writeBatchResult(c, err)
}

// listProxies returns the available proxy names and their addresses.
func (h *Handler) listProxies(c *gin.Context) {
	names := h.registry.AvailableProxies()
	out := make(map[string]domain.ProxyInstance, len(names))
	for _, name := range names {
		if inst, err := h.registry.ProxyConfig(name); err == nil {
			out[name] = inst
		}
	}
	c.JSON(http.StatusOK, gin.H{"proxies": out})
}

// listFlows returns the flow records captured by a proxy instance.
func (h *Handler) listFlows(c *gin.Context) {
	proxy, err := h.registry.ProxyConfig(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_PROXY"})
		return
	}

	records, err := flows.NewClient(proxy).List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "FLOW_API_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flows": records})
}

// clearFlows discards the flow records captured by a proxy instance.
func (h *Handler) clearFlows(c *gin.Context) {
	proxy, err := h.registry.ProxyConfig(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_PROXY"})
		return
	}

	if err := flows.NewClient(proxy).Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "FLOW_API_ERROR"})
		return
	}
	c.Status(http.StatusNoContent)
}

// requireCaddy rejects admin-backed endpoints when no client is wired.
func (h *Handler) requireCaddy(c *gin.Context) bool {
	if h.caddy == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "admin client not configured", Code: "NO_ADMIN_CLIENT"})
		return false
	}
	return true
}

// listDomains returns the hostnames covered by TLS automation.
func (h *Handler) listDomains(c *gin.Context) {
	if !h.requireCaddy(c) {
		return
	}
	subjects, err := h.caddy.ListDomains(c.Request.Context())
	if err != nil {
		h.writeToggleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": subjects})
}

type domainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// addDomain adds a hostname to the TLS automation policy.
func (h *Handler) addDomain(c *gin.Context) {
	if !h.requireCaddy(c) {
		return
	}

	var req domainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_BODY"})
		return
	}

	if err := h.caddy.AddDomain(c.Request.Context(), req.Domain); err != nil {
		h.writeToggleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"domain": req.Domain})
}

// removeDomain removes a hostname from the TLS automation policy.
func (h *Handler) removeDomain(c *gin.Context) {
	if !h.requireCaddy(c) {
		return
	}
	if err := h.caddy.RemoveDomain(c.Request.Context(), c.Param("domain")); err != nil {
		h.writeToggleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// caCertificates returns the parsed local CA certificate chain.
func (h *Handler) caCertificates(c *gin.Context) {
	if !h.requireCaddy(c) {
		return
	}
	certs, err := h.caddy.CACertificates(c.Request.Context())
	if err != nil {
		h.writeToggleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

// history returns recent toggle records.
func (h *Handler) history(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "history store not configured", Code: "NO_STORE"})
		return
	}

	n, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.repo.RecentToggles(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

// writeToggleError maps registry errors onto HTTP statuses: logic errors
// are the caller's fault (4xx), remote failures are upstream trouble (502).
func (h *Handler) writeToggleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownService):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_SERVICE"})
	case errors.Is(err, domain.ErrUnknownProxy):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_PROXY"})
	default:
		var apiErr *domain.APIError
		var timeoutErr *domain.TimeoutError
		var netErr *domain.NetworkError
		if errors.As(err, &apiErr) || errors.As(err, &timeoutErr) || errors.As(err, &netErr) {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "ADMIN_API_ERROR"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}

// writeBatchResult reports a best-effort batch outcome.
func (h *Handler) writeBatchResult(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"services": h.registry.StatusAll()})
		return
	}
	c.JSON(http.StatusMultiStatus, gin.H{
		"services": h.registry.StatusAll(),
		"errors":   err.Error(),
	})
}
