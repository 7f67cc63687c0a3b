package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "allocations_total",
			Help:      "Count of allocation attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	sequenceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "sequence_conflicts_total",
			Help:      "Count of allocation retries caused by sequence contention.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "transitions_total",
			Help:      "Count of status transitions by kind and action.",
		},
		[]string{"kind", "action"},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "cache_requests_total",
			Help:      "Count of status cache reads by result.",
		},
		[]string{"result"},
	)

	lockOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "lock_outcomes_total",
			Help:      "Count of distributed lock attempts by outcome.",
		},
		[]string{"outcome"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "events_dropped_total",
			Help:      "Count of events dropped due to full subscriber buffers.",
		},
	)

	sweptTickets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "swept_tickets_total",
			Help:      "Count of called tickets auto-skipped by the sweeper.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by path and status class.",
		},
		[]string{"path", "class"},
	)

	allocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "talon",
			Name:      "allocation_duration_seconds",
			Help:      "Latency of allocation attempts by kind.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			allocations,
			sequenceConflicts,
			transitions,
			cacheRequests,
			lockOutcomes,
			eventsDropped,
			sweptTickets,
			httpRequests,
			allocationDuration,
		)
	})
}

func IncAllocation(kind, outcome string) {
	allocations.WithLabelValues(kind, outcome).Inc()
}

func IncSequenceConflict() {
	sequenceConflicts.Inc()
}

func IncTransition(kind, action string) {
	transitions.WithLabelValues(kind, action).Inc()
}

func IncCacheHit() {
	cacheRequests.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheRequests.WithLabelValues("miss").Inc()
}

func IncLockOutcome(outcome string) {
	lockOutcomes.WithLabelValues(outcome).Inc()
}

func IncEventDropped() {
	eventsDropped.Inc()
}

func AddSweptTickets(n int) {
	sweptTickets.Add(float64(n))
}

func IncHTTPRequest(path, class string) {
	httpRequests.WithLabelValues(path, class).Inc()
}

func ObserveAllocation(kind string, d time.Duration) {
	allocationDuration.WithLabelValues(kind).Observe(d.Seconds())
}
