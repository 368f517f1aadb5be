package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wirechat_sessions_active",
			Help: "Connected sessions on this worker",
		},
	)

	SessionsResumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_sessions_resumed_total",
			Help: "Resume attempts by outcome",
		},
		[]string{"result"}, // "restored", "expired", "overflow", "unknown"
	)

	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_slow_consumers_total",
			Help: "Sessions dropped because their outbound queue was full",
		},
	)

	// Message metrics
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_messages_appended_total",
			Help: "Messages written to the store",
		},
	)

	DuplicateOffsets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_duplicate_offsets_total",
			Help: "Submissions absorbed as retries of an already stored client offset",
		},
	)

	RejectedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_rejected_messages_total",
			Help: "Submissions rejected before reaching the store",
		},
		[]string{"reason"},
	)

	RecoveryReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_recovery_replayed_total",
			Help: "Messages replayed to reconnecting sessions",
		},
	)

	// Fan-out metrics
	FanoutPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_fanout_publish_failures_total",
			Help: "Publishes that fell back to local-only delivery",
		},
	)

	FanoutDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_fanout_delivered_total",
			Help: "Broadcast events handed to local sessions",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wirechat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_store_errors_total",
			Help: "Message store failures",
		},
		[]string{"op"},
	)
)
