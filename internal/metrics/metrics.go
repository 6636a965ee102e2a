// Package metrics exposes the Prometheus collectors served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service counters and histograms.
type Metrics struct {
	Registry *prometheus.Registry

	ValidationsTotal     *prometheus.CounterVec
	ReportsIssuedTotal   *prometheus.CounterVec
	QuotaRejectionsTotal prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	ScreeningDuration    prometheus.Histogram
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// New builds a Metrics with its own registry, so tests do not collide on
// the global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greengate",
			Name:      "validations_total",
			Help:      "Parcel screenings by verdict status.",
		}, []string{"status"}),
		ReportsIssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greengate",
			Name:      "reports_issued_total",
			Help:      "Due-diligence reports issued, by verdict status.",
		}, []string{"status"}),
		QuotaRejectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "greengate",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the key's monthly quota was exhausted.",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "greengate",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the sliding-window rate limiter.",
		}),
		ScreeningDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "greengate",
			Name:      "screening_duration_seconds",
			Help:      "Wall time of one full six-check screening.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greengate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status class.",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "greengate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
