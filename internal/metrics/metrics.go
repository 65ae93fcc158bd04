// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package metrics defines the Prometheus instrumentation surface:
// query latency by category and resolution, cache efficiency, data source
// health and API throughput. Everything is registered via promauto on the
// default registry and exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query pipeline
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nemlens_query_duration_seconds",
			Help:    "End-to-end query latency, including cache lookup and any store fetch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "resolution", "cache"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemlens_query_errors_total",
			Help: "Total query failures by error class",
		},
		[]string{"category", "error_type"},
	)

	ResolutionSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemlens_resolution_selected_total",
			Help: "Resolutions chosen by the selector or forced by override",
		},
		[]string{"category", "resolution", "source"}, // source: "auto" or "override"
	)

	// Result cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nemlens_cache_hits_total",
			Help: "Total result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nemlens_cache_misses_total",
			Help: "Total result cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nemlens_cache_evictions_total",
			Help: "Total entries evicted to respect the capacity bound",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nemlens_cache_entries",
			Help: "Current number of cached query results",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nemlens_cache_size_bytes",
			Help: "Estimated total size of cached results",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nemlens_cache_invalidations_total",
			Help: "Total explicit cache invalidations",
		},
	)

	// Data source
	StoreFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nemlens_store_fetch_duration_seconds",
			Help:    "DuckDB range scan latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "resolution"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemlens_store_errors_total",
			Help: "Data source failures after retries",
		},
		[]string{"category"},
	)

	// Consistency checker
	ConsistencySamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemlens_consistency_samples_total",
			Help: "Consistency check samples by outcome",
		},
		[]string{"category", "outcome"}, // outcome: "pass" or "fail"
	)

	// HTTP API
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nemlens_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nemlens_http_active_requests",
			Help: "Requests currently being served",
		},
	)
)

// RecordQuery records one completed query.
func RecordQuery(category, resolution string, cacheHit bool, duration time.Duration) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	QueryDuration.WithLabelValues(category, resolution, cache).Observe(duration.Seconds())
}

// RecordQueryError classifies and counts one failed query.
func RecordQueryError(category, errorType string) {
	QueryErrors.WithLabelValues(category, errorType).Inc()
}

// UpdateCacheGauges publishes the cache's current footprint.
func UpdateCacheGauges(entries int, sizeBytes int64) {
	CacheEntries.Set(float64(entries))
	CacheSizeBytes.Set(float64(sizeBytes))
}
