package tutorserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's prometheus collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	clients    prometheus.Gauge
	turns      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	audioClips prometheus.Counter
}

// NewMetrics creates and registers the tutor server collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tutor_connected_clients",
			Help: "Number of connected tutor clients.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_turns_total",
			Help: "Tutor replies sent, by mode.",
		}, []string{"mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_failures_total",
			Help: "Failed turns, by stage.",
		}, []string{"stage"}),
		audioClips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutor_audio_clips_total",
			Help: "Audio envelopes sent.",
		}),
	}

	m.registry.MustRegister(m.clients, m.turns, m.failures, m.audioClips,
		collectors.NewGoCollector())
	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
