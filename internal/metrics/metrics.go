package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted tracks workflow sessions started per location
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_sessions_started_total",
			Help: "Total number of workflow sessions started",
		},
		[]string{"location"},
	)

	// SessionsFinished tracks finished sessions by terminal outcome
	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_sessions_finished_total",
			Help: "Total number of workflow sessions finished",
		},
		[]string{"location", "outcome"},
	)

	// StateTransitions tracks transitions into each workflow state
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_state_transitions_total",
			Help: "Total number of transitions into a workflow state",
		},
		[]string{"state"},
	)

	// ThrottleEscalations tracks backoff waits caused by throttling signals
	ThrottleEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_throttle_escalations_total",
			Help: "Total number of backoff waits after a throttling signal",
		},
		[]string{"escalation"},
	)

	// ForcedResets tracks sessions reset to start
	ForcedResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_forced_resets_total",
			Help: "Total number of forced session resets",
		},
		[]string{"reason"},
	)

	// CodesRelayed tracks codes delivered by notification backends
	CodesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_codes_relayed_total",
			Help: "Total number of codes received from a backend",
		},
		[]string{"kind", "backend"},
	)

	// CodeTimeouts tracks code requests that hit their deadline
	CodeTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_code_timeouts_total",
			Help: "Total number of code requests that timed out",
		},
		[]string{"kind"},
	)

	// BackendErrors tracks isolated notification backend failures
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_backend_errors_total",
			Help: "Total number of notification backend errors",
		},
		[]string{"backend", "operation"},
	)

	// AlertsSent tracks alerts delivered per channel
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_alerts_sent_total",
			Help: "Total number of alerts delivered",
		},
		[]string{"backend", "kind"},
	)

	// SlotsFound tracks slot pairs found per location
	SlotsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_slot_pairs_found_total",
			Help: "Total number of slot pairs found",
		},
		[]string{"location"},
	)

	// Bookings tracks booking attempts by status
	Bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatcher_bookings_total",
			Help: "Total number of booking attempts",
		},
		[]string{"status"},
	)

	// ActiveWorkers tracks sessions currently running
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatcher_active_workers",
			Help: "Number of workflow sessions currently running",
		},
	)

	// QueueDepth tracks locations waiting for a worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatcher_queue_depth",
			Help: "Number of locations waiting in the re-submission queue",
		},
	)

	// BookingAPILatency tracks REST call latency
	BookingAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotwatcher_booking_api_latency_seconds",
			Help:    "Booking API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks journal database pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatcher_db_connection_pool_usage_percent",
			Help: "Journal database connection pool usage in percent",
		},
	)
)
