// Package metrics exposes Prometheus collectors for the review notifier.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the collectors below.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusNoReviews = "no_reviews"
	StatusAbandoned = "abandoned"
	StatusRecreated = "recreated"
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
	StatusSkipped   = "skipped"
)

var (
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	sweepsTotal                *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	sweepUsersTotal            *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	inflightDeliveries         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_extractions_total",
				Help: "Total number of page extractions, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_extraction_duration_seconds",
				Help:    "Histogram of page extraction latencies, labeled by kind.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"kind"},
		)

		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_sweeps_total",
				Help: "Total number of sync sweeps, labeled by status.",
			},
			[]string{"status"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notifier_sweep_duration_seconds",
				Help:    "Histogram of sync sweep durations.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 3600},
			},
		)

		sweepUsersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_sweep_users_total",
				Help: "Total number of users processed by sweeps, labeled by outcome.",
			},
			[]string{"status"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_deliveries_total",
				Help: "Total number of per-follower notification deliveries, labeled by status.",
			},
			[]string{"status"},
		)

		inflightDeliveries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_inflight_deliveries",
				Help: "Number of follower deliveries currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtraction records one extraction of the given kind ("review" or "profile").
func ObserveExtraction(kind, status string, duration time.Duration) {
	Init()
	extractionsTotal.WithLabelValues(kind, status).Inc()
	extractionDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveSweep records a finished sweep.
func ObserveSweep(status string, duration time.Duration) {
	Init()
	sweepsTotal.WithLabelValues(status).Inc()
	if status != StatusSkipped {
		sweepDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveSweepUser records the outcome for one user of a sweep.
func ObserveSweepUser(status string) {
	Init()
	sweepUsersTotal.WithLabelValues(status).Inc()
}

// ObserveDelivery records the outcome of one follower delivery.
func ObserveDelivery(status string) {
	Init()
	deliveriesTotal.WithLabelValues(status).Inc()
}

// IncInflightDeliveries increments the in-flight deliveries gauge.
func IncInflightDeliveries() {
	Init()
	inflightDeliveries.Inc()
}

// DecInflightDeliveries decrements the in-flight deliveries gauge.
func DecInflightDeliveries() {
	Init()
	inflightDeliveries.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
