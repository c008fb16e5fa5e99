package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloakpost_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloakpost_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Messaging metrics
	MessagesEncrypted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloakpost_messages_encrypted_total",
			Help: "Messages encrypted and persisted",
		},
	)

	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloakpost_messages_deleted_total",
			Help: "Messages hard-deleted, by trigger",
		},
		[]string{"trigger"}, // "timer" or "sweep"
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloakpost_decrypt_failures_total",
			Help: "Stored ciphertexts that failed authentication on read",
		},
	)

	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloakpost_threads_created_total",
			Help: "Threads created",
		},
	)

	EmptyThreadsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloakpost_empty_threads_swept_total",
			Help: "Empty duplicate threads removed by maintenance",
		},
	)

	// Realtime metrics
	SocketsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloakpost_sockets_active",
			Help: "Currently connected thread sessions",
		},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloakpost_broadcasts_dropped_total",
			Help: "Events dropped because a session's send queue was full",
		},
	)
)
