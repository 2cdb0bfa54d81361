// Package metrics holds the Prometheus collectors of the hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Inbound agent messages by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PendingOverwritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairing_overwrites_total",
			Help: "Pending readings replaced by a newer reading of the same kind",
		},
		[]string{"kind"},
	)

	PairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_records_total",
			Help: "Combined records emitted by pairing buffers",
		},
	)

	RecordsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_records_dropped_total",
			Help: "Combined records dropped because the analytics queue was full",
		},
	)

	RoadStatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "road_states_total",
			Help: "Classified points by road state",
		},
		[]string{"road_state"},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_subscribers",
			Help: "Currently registered subscriber connections",
		},
	)

	PushFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_push_failures_total",
			Help: "Pushes that failed and removed the subscriber",
		},
	)

	AgentConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_connections",
			Help: "Open agent connections by transport",
		},
		[]string{"transport"},
	)

	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_mqtt_reconnects_total",
			Help: "MQTT broker reconnect attempts",
		},
	)
)

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method, endpoint, status string, start time.Time) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDurationSeconds.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
