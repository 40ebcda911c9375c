package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/dirauth/internal/protocol/codec"
)

const namespace = "dirauth"

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
	pdusDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "pdus_total",
			Help:      "Messages decoded per protocol.",
		},
		[]string{"proto"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Decode failures per protocol and error kind.",
		},
		[]string{"proto", "kind"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Bytes read from clients per protocol.",
		},
		[]string{"proto"},
	)
	pduSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "pdu_size_bytes",
			Help:      "Encoded size of decoded messages.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 9),
		},
		[]string{"proto"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_sessions",
			Help:      "Open client connections per protocol.",
		},
		[]string{"proto"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			pdusDecoded, decodeErrors, bytesReceived, pduSize, activeSessions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordDecoded counts one message of size encoded bytes.
func RecordDecoded(proto string, size int) {
	RegisterMetrics()
	pdusDecoded.WithLabelValues(proto).Inc()
	pduSize.WithLabelValues(proto).Observe(float64(size))
}

// RecordDecodeError counts a failed decode under its error kind. Errors that
// are not codec decode errors, such as framing violations, count as malformed.
func RecordDecodeError(proto string, err error) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(proto, ErrorKindLabel(err)).Inc()
}

func ErrorKindLabel(err error) string {
	var de *codec.DecodeError
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return codec.KindMalformed.String()
}

func RecordBytes(proto string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	bytesReceived.WithLabelValues(proto).Add(float64(n))
}

// SessionOpened bumps the active session gauge; call the returned func when
// the session closes.
func SessionOpened(proto string) func() {
	RegisterMetrics()
	g := activeSessions.WithLabelValues(proto)
	g.Inc()
	var once sync.Once
	return func() { once.Do(g.Dec) }
}
