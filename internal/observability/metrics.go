package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helphub_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// MessagesPersisted counts stored chat messages by kind and the path that created them.
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_messages_persisted_total",
		Help: "Total number of chat messages persisted",
	}, []string{"message_type", "channel"})

	// NotificationFailures counts message notifications that could not be stored.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helphub_notification_failures_total",
		Help: "Total number of failed new-message notifications",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketRoomMembers is the number of local clients joined to rooms, by room kind.
	WebSocketRoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helphub_websocket_room_members",
		Help: "Number of local room memberships by room kind",
	}, []string{"kind"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// StreamPublishFailures counts message events that could not be written to JetStream.
	StreamPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helphub_stream_publish_failures_total",
		Help: "Total number of failed JetStream publishes",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordWebSocketEvent increments the WebSocket events counter for the event type.
func RecordWebSocketEvent(eventType string) {
	WebSocketEventsTotal.WithLabelValues(eventType).Inc()
}
