package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom exports query metrics to Prometheus. It is a side-channel: the
// Collector snapshot stays authoritative for the MCP performance tools,
// Prom only feeds scrapers when the HTTP transport is up.
type Prom struct {
	registry *prometheus.Registry

	queries  *prometheus.CounterVec
	duration prometheus.Histogram
	limit    prometheus.Gauge
}

// NewProm builds the exporter on a dedicated registry so unrelated
// process collectors never leak into our scrape output.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joernmcp_queries_total",
			Help: "Executed queries by outcome and cache disposition.",
		}, []string{"status", "cache"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "joernmcp_query_duration_seconds",
			Help:    "Wall time of engine query execution.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "joernmcp_concurrency_limit",
			Help: "Current adaptive concurrency limit.",
		}),
	}
	p.registry.MustRegister(p.queries, p.duration, p.limit)
	return p
}

// Observe records one executed query.
func (p *Prom) Observe(d time.Duration, cacheHit, ok bool) {
	status, cache := "success", "miss"
	if !ok {
		status = "failure"
	}
	if cacheHit {
		cache = "hit"
	}
	p.queries.WithLabelValues(status, cache).Inc()
	p.duration.Observe(d.Seconds())
}

// SetLimit publishes the current concurrency limit.
func (p *Prom) SetLimit(n int) {
	p.limit.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for this registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
