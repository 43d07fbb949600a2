package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame drop reasons.
const (
	DropUnknownDestination = "unknown_destination"
	DropSendFailed         = "send_failed"
	DropUnregisteredSender = "unregistered_sender"
	DropShutdown           = "shutdown"
	DropStaleConnection    = "stale_connection"
)

var (
	registerOnce sync.Once

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "connections_active",
			Help:      "Open node connections, registered or not.",
		},
	)
	nodesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "nodes_registered",
			Help:      "Connections holding a node id.",
		},
	)
	framesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "frames_received_total",
			Help:      "Frames decoded from node connections.",
		},
	)
	framesRouted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "frames_routed_total",
			Help:      "Frames forwarded to a destination node.",
		},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "frames_dropped_total",
			Help:      "Frames the hub did not deliver.",
		},
		[]string{"reason"},
	)
	frameDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "frame_decode_errors_total",
			Help:      "Frames rejected by the wire decoder.",
		},
	)
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "dispatcher",
			Name:      "events_processed_total",
			Help:      "Events consumed by the dispatcher.",
		},
		[]string{"kind"},
	)
	localHandlerPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "hub",
			Name:      "local_handler_panics_total",
			Help:      "Panics recovered from the hub-local handler.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodehub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dnsUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodehub",
			Subsystem: "dns",
			Name:      "updates_total",
			Help:      "Dynamic DNS update attempts.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsActive,
			nodesRegistered,
			framesReceived,
			framesRouted,
			framesDropped,
			frameDecodeErrors,
			eventsProcessed,
			localHandlerPanics,
			httpRequests,
			httpDuration,
			dnsUpdates,
		)
	})
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func SetNodesRegistered(n int) {
	RegisterMetrics()
	nodesRegistered.Set(float64(n))
}

func RecordFrameReceived() {
	RegisterMetrics()
	framesReceived.Inc()
}

func RecordFrameRouted() {
	RegisterMetrics()
	framesRouted.Inc()
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordDecodeError() {
	RegisterMetrics()
	frameDecodeErrors.Inc()
}

func RecordEvent(kind string) {
	RegisterMetrics()
	eventsProcessed.WithLabelValues(kind).Inc()
}

func RecordLocalHandlerPanic() {
	RegisterMetrics()
	localHandlerPanics.Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDNSUpdate(success bool) {
	RegisterMetrics()
	dnsUpdates.WithLabelValues(strconv.FormatBool(success)).Inc()
}
