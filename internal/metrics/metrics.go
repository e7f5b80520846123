// Package metrics exports server counters for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "Total number of connections rejected at the capacity limit",
	})

	HandshakeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_handshake_failures_total",
		Help: "Total number of failed WebSocket handshakes",
	})

	// Message metrics
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "Total number of messages received from clients",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "Total number of messages sent to clients",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})

	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_malformed_frames_total",
		Help: "Total number of connections dropped for malformed frames",
	})

	// Reliability metrics
	SlowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_slow_clients_disconnected_total",
		Help: "Total number of slow clients disconnected",
	})

	RateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_rate_limited_messages_total",
		Help: "Total number of rate limited messages",
	})

	// Protocol metrics
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_auth_failures_total",
		Help: "Total number of failed authentication attempts",
	})

	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_users_online",
		Help: "Current number of authenticated users",
	})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_store_errors_total",
		Help: "Total store errors by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsRejected)
	prometheus.MustRegister(HandshakeFailures)

	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(BytesReceived)
	prometheus.MustRegister(BytesSent)
	prometheus.MustRegister(MalformedFrames)

	prometheus.MustRegister(SlowClientsDisconnected)
	prometheus.MustRegister(RateLimitedMessages)

	prometheus.MustRegister(AuthFailures)
	prometheus.MustRegister(UsersOnline)
	prometheus.MustRegister(StoreErrors)
}
