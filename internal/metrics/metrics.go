// Package metrics holds the BFF's Prometheus collectors. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides RED metrics for HTTP plus session, proxy and idle counters.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SessionsCreated     prometheus.Counter
	RefreshTotal        *prometheus.CounterVec
	ProxyResultsTotal   *prometheus.CounterVec
	IdleLogoutsTotal    *prometheus.CounterVec
	CatalogCacheTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: labels,
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bff_sessions_created_total",
			Help:        "Sessions created by a successful sign-in",
			ConstLabels: labels,
		}),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_token_refresh_total",
				Help:        "Access token refresh attempts by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		ProxyResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_proxy_results_total",
				Help:        "Proxied requests by result kind",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		IdleLogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_idle_logouts_total",
				Help:        "Forced logouts issued by the idle monitor",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		CatalogCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "bff_catalog_cache_total",
				Help:        "Public catalog page cache lookups",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionsCreated,
		m.RefreshTotal,
		m.ProxyResultsTotal,
		m.IdleLogoutsTotal,
		m.CatalogCacheTotal,
	)
	return m
}

func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProxyResult(kind string) {
	if m == nil {
		return
	}
	m.ProxyResultsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IdleLogout(reason string) {
	if m == nil {
		return
	}
	m.IdleLogoutsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) CatalogCache(result string) {
	if m == nil {
		return
	}
	m.CatalogCacheTotal.WithLabelValues(result).Inc()
}
