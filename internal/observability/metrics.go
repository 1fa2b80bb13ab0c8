package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imglink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "receiver",
			Name:      "frames_total",
			Help:      "Inbound frames by handling outcome.",
		},
		[]string{"outcome"},
	)
	acksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "receiver",
			Name:      "acks_total",
			Help:      "Acknowledgments sent back to senders.",
		},
		[]string{"success"},
	)
	sessionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "sessions",
			Name:      "evicted_total",
			Help:      "Sessions removed without being stored.",
		},
		[]string{"reason"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imglink",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently held in the table.",
		},
	)
	transfersStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "store",
			Name:      "transfers_total",
			Help:      "Completed transfers handed to storage.",
		},
		[]string{"success"},
	)
	storedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "store",
			Name:      "bytes_total",
			Help:      "Bytes written for completed transfers.",
		},
	)
	senderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "sender",
			Name:      "attempts_total",
			Help:      "Frame send attempts by result.",
		},
		[]string{"result"},
	)
	senderTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imglink",
			Subsystem: "sender",
			Name:      "transfers_total",
			Help:      "Outbound transfers by result.",
		},
		[]string{"success"},
	)
	senderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "imglink",
			Subsystem: "sender",
			Name:      "transfer_duration_seconds",
			Help:      "Outbound transfer duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesReceived, acksSent,
			sessionsEvicted, sessionsActive,
			transfersStored, storedBytes,
			senderAttempts, senderTransfers, senderDuration,
		)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(outcome string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(outcome).Inc()
}

func RecordAck(success bool) {
	RegisterMetrics()
	acksSent.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordEviction(reason string, n int) {
	RegisterMetrics()
	sessionsEvicted.WithLabelValues(reason).Add(float64(n))
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	sessionsActive.Set(float64(n))
}

func RecordStored(success bool, bytes int) {
	RegisterMetrics()
	transfersStored.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		storedBytes.Add(float64(bytes))
	}
}

func RecordSendAttempt(result string) {
	RegisterMetrics()
	senderAttempts.WithLabelValues(result).Inc()
}

func RecordTransfer(success bool, duration time.Duration) {
	RegisterMetrics()
	senderTransfers.WithLabelValues(strconv.FormatBool(success)).Inc()
	senderDuration.Observe(duration.Seconds())
}
