package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that returned a live entry.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses tracks lookups that found no usable entry, by reason.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"reason"}, // "absent", "expired", "corrupt"
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "store", "invalidate", "sweep"
	)

	// LockWaitSeconds tracks time spent acquiring per-key file locks.
	LockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_cache_lock_wait_seconds",
			Help:    "Time spent waiting for per-key cache locks",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)
