// Package metrics provides Prometheus metrics for the ROV link.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rovlink"

// Metrics contains all Prometheus metrics for one link peer (either role).
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Disconnects       *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	Evictions         prometheus.Counter

	// Frame metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	FramesCorrupt  prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter

	// Message metrics
	UnknownKinds      prometheus.Counter
	DecodeFailures    prometheus.Counter
	BroadcastFailures prometheus.Counter

	// Heartbeat metrics
	HeartbeatsSent     prometheus.Counter
	HeartbeatsReceived prometheus.Counter
	HeartbeatAge       prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance on a custom registry.
// Tests use this to avoid duplicate registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open link connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total link connections established",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total disconnections by reason",
		}, []string{"reason"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total vehicle-side reconnection attempts",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total shore-side stale connection evictions",
		}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent by message kind",
		}, []string{"kind"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total valid frames received by message kind",
		}, []string{"kind"}),
		FramesCorrupt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_corrupt_total",
			Help:      "Total frames dropped for checksum mismatch",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the link",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the link",
		}),

		UnknownKinds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_kinds_total",
			Help:      "Total envelopes dropped for an unknown message kind",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total payloads dropped for a malformed message body",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Total per-connection send failures during broadcast",
		}),

		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeats sent by the vehicle link",
		}),
		HeartbeatsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_received_total",
			Help:      "Total heartbeats dispatched by the shore server",
		}),
		HeartbeatAge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heartbeat_age_seconds",
			Help:      "Seconds since the most recent heartbeat was received",
		}),
	}
}

// Serve exposes /metrics on addr over plain HTTP in a background
// goroutine. The returned server's Close tears it down.
func Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		// ErrServerClosed on shutdown is the expected exit.
		_ = srv.Serve(ln)
	}()
	return srv, nil
}
