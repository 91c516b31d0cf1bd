// Package metrics exposes Prometheus collectors for the connection lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenantguard"

// Lease kinds used as label values.
const (
	KindScoped = "scoped"
	KindPublic = "public"
)

// Discard reasons used as label values.
const (
	DiscardBindFailed  = "bind_failed"
	DiscardClearFailed = "clear_failed"
	DiscardAbandoned   = "abandoned"
	DiscardCheckin     = "checkin_clear_failed"
)

// Membership cache results used as label values.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var (
	LeasesAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "acquired_total",
			Help:      "Total number of leases handed out",
		},
		[]string{"kind"},
	)

	LeasesReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "released_total",
			Help:      "Total number of leases explicitly released",
		},
		[]string{"kind"},
	)

	LeasesAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "abandoned_total",
			Help:      "Leases garbage collected without Release; each one is a defect",
		},
		[]string{"kind"},
	)

	LeasesOutstanding = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "outstanding",
			Help:      "Leases currently holding a connection",
		},
		[]string{"kind"},
	)

	AcquireFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "acquire_failures_total",
			Help:      "Failed acquisitions by error kind",
		},
		[]string{"kind", "reason"},
	)

	AcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "acquire_duration_seconds",
			Help:      "Time spent checking out and binding a connection",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	ConnectionsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "discarded_total",
			Help:      "Physical connections removed from circulation",
		},
		[]string{"reason"},
	)

	MembershipLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership_cache",
			Name:      "lookups_total",
			Help:      "Membership cache lookups by result",
		},
		[]string{"result"},
	)
)
