package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blockgate"

// Delivery results.
const (
	DeliveryOK    = "ok"
	DeliveryError = "error"
	DeliveryPanic = "panic"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sinkDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "deliveries_total",
			Help:      "Per-observer packet deliveries by result.",
		},
		[]string{"result"},
	)
	sinkEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Sink operations processed by the mailbox loop.",
		},
		[]string{"event"},
	)
	activeSinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "active",
			Help:      "Sinks currently held by the directory.",
		},
	)
	packetsPrepared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "packager",
			Name:      "prepared_total",
			Help:      "Packets prepared for the wire.",
		},
		[]string{"compressed"},
	)
	payloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "packager",
			Name:      "payload_bytes",
			Help:      "Prepared payload size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"compressed"},
	)
	joinAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "join_attempts_total",
			Help:      "Cluster join attempts by outcome.",
		},
		[]string{"outcome"},
	)
	openConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "open_connections",
			Help:      "Client connections currently open.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sinkDeliveries, sinkEvents, activeSinks,
			packetsPrepared, payloadBytes,
			joinAttempts, openConnections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDelivery(result string) {
	RegisterMetrics()
	sinkDeliveries.WithLabelValues(result).Inc()
}

func RecordSinkEvent(event string) {
	RegisterMetrics()
	sinkEvents.WithLabelValues(event).Inc()
}

func SetActiveSinks(n int) {
	RegisterMetrics()
	activeSinks.Set(float64(n))
}

func RecordPrepared(compressed bool, size int) {
	RegisterMetrics()
	label := strconv.FormatBool(compressed)
	packetsPrepared.WithLabelValues(label).Inc()
	payloadBytes.WithLabelValues(label).Observe(float64(size))
}

func RecordJoinAttempt(outcome string) {
	RegisterMetrics()
	joinAttempts.WithLabelValues(outcome).Inc()
}

func ConnectionOpened() {
	RegisterMetrics()
	openConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	openConnections.Dec()
}
