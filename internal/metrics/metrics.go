package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signaling metrics
var (
	// HTTP request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "call_signaling",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Open WebSocket connections
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "call_signaling",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "ws",
			Name:      "connections_closed_total",
			Help:      "Closed WebSocket connections by reason",
		},
		[]string{"reason"},
	)

	ConnectionsRefused = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "ws",
			Name:      "connections_refused_total",
			Help:      "WebSocket upgrades refused before the handshake",
		},
		[]string{"reason"},
	)

	// Online identities
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "call_signaling",
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Identities with a registered connection",
		},
	)

	// Live (non-terminal) calls
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "call_signaling",
			Subsystem: "calls",
			Name:      "active",
			Help:      "Calls in calling, accepted or connected state",
		},
	)

	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "calls",
			Name:      "transitions_total",
			Help:      "Call state transitions by target status and end reason",
		},
		[]string{"status", "reason"},
	)

	RelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "signaling",
			Name:      "relayed_total",
			Help:      "Messages forwarded between call parties",
		},
		[]string{"kind"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "signaling",
			Name:      "errors_total",
			Help:      "Request failures reported to clients as callError",
		},
		[]string{"kind"},
	)

	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "signaling",
			Name:      "dropped_total",
			Help:      "Outbound messages that could not be queued",
		},
		[]string{"event"},
	)

	// Side collaborators (audit recorder, presence mirror)
	SideQueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "call_signaling",
			Subsystem: "workers",
			Name:      "queue_dropped_total",
			Help:      "Items dropped because a worker queue was full",
		},
		[]string{"worker"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// Middleware records HTTP request metrics for gin routes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func RecordConnectionOpened() {
	Connections.Inc()
}

func RecordConnectionClosed(reason string) {
	Connections.Dec()
	ConnectionsClosed.WithLabelValues(reason).Inc()
}

func RecordConnectionRefused(reason string) {
	ConnectionsRefused.WithLabelValues(reason).Inc()
}

func SetOnlineUsers(n int) {
	OnlineUsers.Set(float64(n))
}

func SetActiveCalls(n int) {
	ActiveCalls.Set(float64(n))
}

// RecordCallTransition records a call entering status. reason is empty
// except for ended calls.
func RecordCallTransition(status, reason string) {
	if reason == "" {
		reason = "none"
	}
	CallTransitions.WithLabelValues(status, reason).Inc()
}

func RecordRelay(kind string) {
	RelayedTotal.WithLabelValues(kind).Inc()
}

func RecordSignalingError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

func RecordDroppedMessage(event string) {
	DroppedTotal.WithLabelValues(event).Inc()
}

func RecordQueueDropped(worker string) {
	SideQueueDropped.WithLabelValues(worker).Inc()
}
