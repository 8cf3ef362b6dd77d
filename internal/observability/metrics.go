package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	stackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "stack",
			Name:      "events_total",
			Help:      "Middleware stack events by layer and kind.",
		},
		[]string{"name", "layer", "event"},
	)
	stackWindow = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "stack",
			Name:      "window_size",
			Help:      "Unacknowledged entries in the reliable send window.",
		},
		[]string{"name"},
	)
	stackBuffered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "stack",
			Name:      "reorder_buffered",
			Help:      "Messages held in the ordered reorder buffer.",
		},
		[]string{"name"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

// Stack event names.
const (
	EventSent            = "sent"
	EventReceived        = "received"
	EventRetransmit      = "retransmit"
	EventAckSent         = "ack_sent"
	EventAckReceived     = "ack_received"
	EventDeliveryFailure = "delivery_failure"
	EventDuplicate       = "duplicate"
	EventStaleDropped    = "stale_dropped"
	EventProtocolError   = "protocol_error"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(stackEvents, stackWindow, stackBuffered, httpRequests, httpDuration)
	})
}

// StackRecorder reports events for one named stack layer.
type StackRecorder struct {
	name  string
	layer string
}

func ForStack(name, layer string) StackRecorder {
	RegisterMetrics()
	return StackRecorder{name: name, layer: layer}
}

func (r StackRecorder) Event(event string) {
	stackEvents.WithLabelValues(r.name, r.layer, event).Inc()
}

func (r StackRecorder) Window(n int) {
	stackWindow.WithLabelValues(r.name).Set(float64(n))
}

func (r StackRecorder) Buffered(n int) {
	stackBuffered.WithLabelValues(r.name).Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
