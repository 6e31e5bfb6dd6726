// Package metrics defines the Prometheus collectors for the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// HubConnections tracks the current number of registered connections.
	HubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Current number of registered WebSocket connections",
		},
	)

	// HubAuthenticatedConnections tracks connections with a resolved identity.
	HubAuthenticatedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_authenticated_connections",
			Help: "Current number of connections with a resolved user identity",
		},
	)

	// HubChannels tracks the current number of non-empty channels.
	HubChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_channels",
			Help: "Current number of channels with at least one subscriber",
		},
	)

	// HubMessagesReceived counts inbound frames by message type.
	// Unparsable frames are counted as "malformed", unlisted types as "unknown".
	HubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_messages_received_total",
			Help: "Inbound frames by message type",
		},
		[]string{"type"},
	)

	// HubMessagesSent counts frames enqueued for delivery.
	HubMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_sent_total",
			Help: "Outbound frames enqueued for delivery",
		},
	)

	// HubErrorsSent counts error replies by error code.
	HubErrorsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_errors_sent_total",
			Help: "Error frames sent to clients by error code",
		},
		[]string{"code"},
	)

	// HubBroadcastsTotal counts channel broadcast operations.
	HubBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Channel broadcast operations",
		},
	)

	// HubBroadcastDeliveries counts individual successful broadcast deliveries.
	HubBroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcast_deliveries_total",
			Help: "Successful per-member broadcast deliveries",
		},
	)

	// HubBroadcastDuration tracks the time spent fanning out one broadcast.
	HubBroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_broadcast_duration_seconds",
			Help:    "Duration of a single channel fanout",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// HubSlowClientsEvicted counts clients disconnected for full send buffers.
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Clients disconnected because their outbound buffer overflowed",
		},
	)

	// HubIdleEvictions counts clients removed by the inactivity sweep.
	HubIdleEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_idle_evictions_total",
			Help: "Clients removed for exceeding the inactivity threshold",
		},
	)
)

// Transport metrics
var (
	// HubSendFailures counts transport-level write failures.
	HubSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_send_failures_total",
			Help: "WebSocket write failures (treated as connection death)",
		},
	)

	// HubPingFailures counts failed heartbeat probes.
	HubPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_ping_failures_total",
			Help: "Failed heartbeat ping writes",
		},
	)

	// HubMessageSendDuration tracks WebSocket write latency.
	HubMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_message_send_duration_seconds",
			Help:    "WebSocket message write duration",
			Buckets: []float64{.0001, .001, .01, .1, 1, 5},
		},
	)

	// ConnectionsRejected counts refused connection attempts by reason.
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_connections_rejected_total",
			Help: "Refused WebSocket connection attempts by reason",
		},
		[]string{"reason"},
	)
)

// Producer API metrics
var (
	// ProducerPushesTotal counts producer push calls by kind and outcome.
	ProducerPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "producer_pushes_total",
			Help: "Producer push API calls by kind and status",
		},
		[]string{"kind", "status"},
	)
)
