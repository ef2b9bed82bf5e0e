package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	DetectionsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_detections_received_total",
			Help: "Raw detections received, by source",
		},
		[]string{"source"}, // "http", "kafka", "headcount"
	)

	DetectionsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_detections_suppressed_total",
			Help: "Detections dropped by the cooldown gate",
		},
		[]string{"category"},
	)

	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_recorded_total",
			Help: "Violation events persisted",
		},
		[]string{"category"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_alerts_raised_total",
			Help: "Alert records created, by severity",
		},
		[]string{"severity"},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_persistence_failures_total",
			Help: "Storage failures that aborted a detection",
		},
		[]string{"stage"}, // "event", "score", "alert"
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_batch_duration_seconds",
			Help:    "Time to process one detection batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	CooldownKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_cooldown_keys",
			Help: "Keys currently held by the cooldown gate",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_api_requests_total",
			Help: "HTTP requests handled",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Delivery metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_websocket_clients",
			Help: "Connected live dashboard clients",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_notifications_total",
			Help: "Alert notifications by outcome",
		},
		[]string{"outcome"}, // "sent", "failed", "dropped", "rejected"
	)

	NotifierBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_notifier_breaker_state",
			Help: "Notifier circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_ingest_messages_total",
			Help: "Kafka detection batches by outcome",
		},
		[]string{"outcome"}, // "processed", "invalid", "rejected", "failed"
	)
)

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordBatch records the duration of one processed batch.
func RecordBatch(duration time.Duration) {
	BatchDuration.Observe(duration.Seconds())
}
