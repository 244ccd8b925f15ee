// Package metrics provides Prometheus instrumentation for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	// Route and toggle operations are single admin API round trips.
	fastBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0}

	// HTTP front-end requests.
	mediumBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

	// Proxy process startup can take a while on cold images.
	slowBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// Collector holds all Prometheus metrics for the control plane.
type Collector struct {
	// Gauges - current registry state
	RegisteredServices  prometheus.Gauge
	InterceptedServices prometheus.Gauge
	SupervisorRunning   prometheus.Gauge

	// Counters - cumulative events
	ToggleOpsTotal  *prometheus.CounterVec
	RouteOpsTotal   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec

	// Histograms - latency distributions
	ToggleDuration      *prometheus.HistogramVec
	RouteAddDuration    prometheus.Histogram
	RouteRemoveDuration prometheus.Histogram
	SupervisorStartup   prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		RegisteredServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mitm",
			Subsystem: "registry",
			Name:      "registered_services",
			Help:      "Number of services currently registered",
		}),
		InterceptedServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mitm",
			Subsystem: "registry",
			Name:      "intercepted_services",
			Help:      "Number of services currently routed through an intercepting proxy",
		}),
		SupervisorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mitm",
			Name:      "supervisor_running",
			Help:      "Whether the supervised proxy process is running (1=yes, 0=no)",
		}),

		ToggleOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mitm",
			Name:      "toggle_operations_total",
			Help:      "Total number of enable/disable operations",
		}, []string{"operation", "result"}),
		RouteOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mitm",
			Name:      "route_operations_total",
			Help:      "Total number of admin API route operations",
		}, []string{"operation", "result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mitm",
			Name:      "events_published_total",
			Help:      "Total number of toggle events published",
		}, []string{"result"}),

		ToggleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mitm",
			Name:      "toggle_duration_seconds",
			Help:      "End-to-end enable/disable latency in seconds",
			Buckets:   fastBuckets,
		}, []string{"operation"}),
		RouteAddDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mitm",
			Name:      "route_add_duration_seconds",
			Help:      "Admin API route add latency in seconds",
			Buckets:   fastBuckets,
		}),
		RouteRemoveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mitm",
			Name:      "route_remove_duration_seconds",
			Help:      "Admin API route remove latency in seconds",
			Buckets:   fastBuckets,
		}),
		SupervisorStartup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mitm",
			Name:      "supervisor_startup_duration_seconds",
			Help:      "Time for the supervised proxy to become ready in seconds",
			Buckets:   slowBuckets,
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mitm",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   mediumBuckets,
		}, []string{"method", "path", "status"}),

		registry: reg,
	}

	reg.MustRegister(
		c.RegisteredServices,
		c.InterceptedServices,
		c.SupervisorRunning,
		c.ToggleOpsTotal,
		c.RouteOpsTotal,
		c.EventsPublished,
		c.ToggleDuration,
		c.RouteAddDuration,
		c.RouteRemoveDuration,
		c.SupervisorStartup,
		c.HTTPRequestDuration,
	)

	return c
}

// Handler returns an HTTP handler for the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
