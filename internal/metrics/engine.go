// Package metrics provides Prometheus metrics for the audio engine and its
// transport.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxnode"

var (
	transportRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "running",
		Help:      "1 while the transport is streaming",
	}, []string{"backend"})

	dropoutsReported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "dropouts_total",
		Help:      "Dropouts reported by the transport through the callback",
	})

	exitRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "exit_requests_total",
		Help:      "Unrecoverable conditions reported by the transport",
	})

	processSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "process_block_seconds",
		Help:      "Time spent in the block processor per block",
		Buckets:   prometheus.ExponentialBuckets(5e-6, 2, 12),
	})

	configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Audio configuration reloads by result",
	}, []string{"result"})
)

// SetTransportRunning records the streaming state of a backend.
func SetTransportRunning(backend string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	transportRunning.WithLabelValues(backend).Set(v)
}

// AddDropouts counts n newly reported dropouts.
func AddDropouts(n uint64) {
	dropoutsReported.Add(float64(n))
}

// IncExitRequests counts one exit request.
func IncExitRequests() {
	exitRequests.Inc()
}

// ObserveProcess records the duration of one processor call.
func ObserveProcess(d time.Duration) {
	processSeconds.Observe(d.Seconds())
}

// IncConfigReloads counts a reload; result is "unchanged", "restarted" or
// "failed".
func IncConfigReloads(result string) {
	configReloads.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler for the default
// registry, which holds every promauto metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
