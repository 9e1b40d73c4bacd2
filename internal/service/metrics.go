package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal counts cart resolutions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_resolutions_total",
			Help: "Total number of cart promotion resolutions",
		},
		[]string{"outcome"},
	)

	// ResolutionDuration observes how long a full resolution takes.
	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promo_resolution_duration_seconds",
			Help:    "Duration of cart promotion resolution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReservationsTotal counts reservation attempts by outcome.
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_reservations_total",
			Help: "Total number of promotion reservation attempts",
		},
		[]string{"outcome"},
	)

	// ReservationsExpired counts leases released by the expiry sweeper.
	ReservationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promo_reservations_expired_total",
			Help: "Total number of reservations released by the lease expiry sweeper",
		},
	)

	// CacheHits counts promotion set cache hits and misses.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_cache_requests_total",
			Help: "Total number of promotion cache lookups",
		},
		[]string{"result"},
	)
)
