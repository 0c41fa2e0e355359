// ABOUTME: Prometheus instrumentation for the time receiver
// ABOUTME: Counts waves, samples and dropped datagrams; exports the current estimate
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons
const (
	DropMalformed = "malformed"
	DropStale     = "stale_wave"
	DropDuplicate = "duplicate"
)

// Metrics groups the receiver's collectors
type Metrics struct {
	Waves       prometheus.Counter
	EmptyWaves  prometheus.Counter
	Samples     prometheus.Counter
	Dropped     *prometheus.CounterVec
	Resets      prometheus.Counter
	SendErrors  prometheus.Counter
	Offset      prometheus.Gauge
	Uncertainty prometheus.Gauge
	Jitter      prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		Waves: f.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "waves_total",
			Help:      "The number of completed probe waves",
		}),
		EmptyWaves: f.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "empty_waves_total",
			Help:      "Waves that ended without enough samples to publish",
		}),
		Samples: f.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "samples_total",
			Help:      "Valid round-trip samples collected",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "dropped_datagrams_total",
			Help:      "Inbound datagrams discarded, by reason",
		}, []string{"reason"}),
		Resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "resets_total",
			Help:      "Connection recoveries that invalidated the estimate",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "receiver",
			Name:      "send_errors_total",
			Help:      "Probes that could not be sent",
		}),
		Offset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "estimate",
			Name:      "offset_seconds",
			Help:      "Remote clock minus local clock",
		}),
		Uncertainty: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "estimate",
			Name:      "uncertainty_seconds",
			Help:      "Round-trip time of the published sample",
		}),
		Jitter: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "estimate",
			Name:      "jitter_seconds",
			Help:      "Standard deviation of recent published offsets",
		}),
	}

	for _, reason := range []string{DropMalformed, DropStale, DropDuplicate} {
		m.Dropped.WithLabelValues(reason)
	}
	return m
}

// Handler serves the collectors of g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
