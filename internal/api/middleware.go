package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// APIKeyAuth returns a middleware that validates API key authentication.
// It checks the X-API-Key header first, then the api_key query parameter.
//
// If apiKey is empty, the middleware allows all requests through (for
// development). Uses constant-time comparison to prevent timing attacks.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "unauthorized",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		c.Next()
	}
}

// RequestID attaches a request id to every request for log correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestMetrics records per-request latency. The route template, not the
// raw path, is used as the label to keep cardinality bounded.
func RequestMetrics(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
