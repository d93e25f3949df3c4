package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the service's Prometheus registry and instruments.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec

	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_cache_lookups_total",
		Help: "Cache lookups by report kind and result (hit, miss)",
	}, []string{"kind", "result"})

	c.cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_cache_errors_total",
		Help: "Cache failures treated as misses, by operation",
	}, []string{"kind", "op"})

	c.queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_report_duration_seconds",
		Help:    "Time spent computing a report on cache miss",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"kind"})

	c.queryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_report_errors_total",
		Help: "Failed report computations by kind and error class",
	}, []string{"kind", "class"})

	c.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status_code"})

	c.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cacheLookups,
		c.cacheErrors,
		c.queryDuration,
		c.queryErrors,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// Registry returns the registry to expose over /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

func (c *Collector) CacheHit(kind string) {
	if c != nil {
		c.cacheLookups.WithLabelValues(kind, "hit").Inc()
	}
}

func (c *Collector) CacheMiss(kind string) {
	if c != nil {
		c.cacheLookups.WithLabelValues(kind, "miss").Inc()
	}
}

func (c *Collector) CacheError(kind, op string) {
	if c != nil {
		c.cacheErrors.WithLabelValues(kind, op).Inc()
	}
}

func (c *Collector) ObserveReport(kind string, d time.Duration) {
	if c != nil {
		c.queryDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (c *Collector) ReportError(kind, class string) {
	if c != nil {
		c.queryErrors.WithLabelValues(kind, class).Inc()
	}
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
