// Package metrics owns the Prometheus registry exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// UpstreamRequests counts calls to market data sources (labels: source, outcome)
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_upstream_requests_total",
		Help: "Total number of upstream market data requests",
	}, []string{"source", "outcome"})

	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finance_upstream_request_duration_seconds",
		Help:    "Upstream market data request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// CacheLookups counts TTL cache reads (labels: source, result=hit|miss|bypass)
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_cache_lookups_total",
		Help: "Total number of market data cache lookups",
	}, []string{"source", "result"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finance_circuit_breaker_state",
		Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"source"})

	// RefreshRuns counts scheduler refresh runs (labels: trigger=cron|manual, result)
	RefreshRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_refresh_runs_total",
		Help: "Total number of finance data refresh runs",
	}, []string{"trigger", "result"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_server_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(UpstreamRequests, UpstreamLatency, CacheLookups, BreakerState, RefreshRuns, HTTPRequests)
}

// Handler returns the HTTP handler serving the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
