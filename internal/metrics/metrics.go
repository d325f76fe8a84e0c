// Package metrics exposes Prometheus instrumentation for geocoding.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for GeocodeRequests.
const (
	OutcomeSuccess     = "success"
	OutcomeRecoverable = "recoverable"
	OutcomeFatal       = "fatal"
	OutcomeRateLimited = "rate_limited"
)

var (
	GeocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytrace_geocode_requests_total",
			Help: "Reverse geocoding HTTP requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	GeocodeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daytrace_geocode_request_duration_seconds",
			Help:    "Latency of reverse geocoding HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	GeocodeCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytrace_geocode_cache_hits_total",
			Help: "Geocoding cache hits by lookup kind (place, water)",
		},
		[]string{"kind"},
	)

	GeocodeBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daytrace_geocode_batch_duration_seconds",
			Help:    "Time to complete one batch of concurrent lookups",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	GeocodeBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daytrace_geocode_batch_size",
			Help:    "Number of coordinates per batch",
			Buckets: []float64{1, 5, 10, 15, 20, 25},
		},
	)
)

// WriteFile writes every registered metric to path in the Prometheus text
// format, replacing the file atomically. The node exporter textfile
// collector reads files written this way.
func WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// RecordGeocodeRequest counts one HTTP request and its latency.
func RecordGeocodeRequest(provider, outcome string, duration time.Duration) {
	GeocodeRequests.WithLabelValues(provider, outcome).Inc()
	GeocodeRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordCacheHit counts a cache hit; water selects the water-check counter.
func RecordCacheHit(water bool) {
	kind := "place"
	if water {
		kind = "water"
	}
	GeocodeCacheHits.WithLabelValues(kind).Inc()
}

// RecordBatch observes one finished batch.
func RecordBatch(size int, duration time.Duration) {
	GeocodeBatchSize.Observe(float64(size))
	GeocodeBatchDuration.Observe(duration.Seconds())
}
