// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PastesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_pastes_created_total",
		Help: "no. of pastes created, merges included",
	})
	PastesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_pastes_merged_total",
		Help: "no. of merge operations",
	})
	PastesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_pastes_deleted_total",
		Help: "no. of pastes deleted",
	})
	PastesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinypaste_pastes_served_total",
			Help: "no. of paste reads by output channel",
		},
		[]string{"channel"},
	)
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_id_collisions_total",
		Help: "no. of generated ids rejected as duplicates",
	})
	PastesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinypaste_pastes_stored",
		Help: "pastes currently stored, refreshed by the stats reporter",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinypaste_cache_misses_total",
		Help: "no. of cache misses",
	})
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinypaste_login_attempts_total",
			Help: "admin login attempts by outcome",
		},
		[]string{"outcome"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinypaste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
