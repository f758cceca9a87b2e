package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oracle"

// Oracle pool metrics
var (
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Oracle registrations by result (registered, adopted, failed)",
		},
		[]string{"result"},
	)

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_size",
		Help:      "Number of oracles with cached indexes",
	})
)

// Dispatch metrics
var (
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Oracle response submissions by result (ok, failed)",
		},
		[]string{"result"},
	)

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time taken to fan a status request out to all eligible oracles",
		Buckets:   prometheus.DefBuckets,
	})
)

// Registry mirror metrics
var (
	MirrorFlights = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mirror_flights",
		Help:      "Number of flights held by the registry mirror",
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Time taken by a full registry resynchronization",
		Buckets:   prometheus.DefBuckets,
	})

	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_failures_total",
		Help:      "Registry resynchronizations that could not complete",
	})
)

// Coordinator metrics
var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Ledger events received by kind",
		},
		[]string{"kind"},
	)

	CoordinatorState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "coordinator_state",
		Help:      "Coordinator state: 0=uninitialized, 1=initializing, 2=live",
	})

	InFlightDispatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_dispatches",
		Help:      "Status requests currently being answered",
	})
)

// Error metrics
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by component",
		},
		[]string{"component"},
	)
)
