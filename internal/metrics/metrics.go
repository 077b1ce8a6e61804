// Package metrics exposes Prometheus instrumentation for the relay and the
// HTTP surface. All collectors are registered on an injected registerer so
// tests can build isolated instances.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StreamsTotal        *prometheus.CounterVec
	StreamFramesTotal   *prometheus.CounterVec
	StreamDuration      *prometheus.HistogramVec
	StreamsInFlight     prometheus.Gauge
	CompletionsTotal    *prometheus.CounterVec
	UpstreamErrorsTotal *prometheus.CounterVec
	DocumentsTotal      *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aksara_relay_streams_total",
				Help: "Streaming relay requests by provider family and outcome",
			},
			[]string{"family", "outcome"},
		),
		StreamFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aksara_relay_stream_frames_total",
				Help: "Content frames forwarded to clients",
			},
			[]string{"family"},
		),
		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aksara_relay_stream_duration_seconds",
				Help:    "Wall time from dispatch to terminal frame",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"family"},
		),
		StreamsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aksara_relay_streams_in_flight",
				Help: "Streams currently open towards an upstream provider",
			},
		),
		CompletionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aksara_relay_completions_total",
				Help: "Buffered chat requests by provider family and outcome",
			},
			[]string{"family", "outcome"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aksara_upstream_errors_total",
				Help: "Upstream provider failures by provider and HTTP status (0 for transport errors)",
			},
			[]string{"provider", "status"},
		),
		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aksara_documents_parsed_total",
				Help: "Document extraction requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aksara_rate_limited_total",
				Help: "Chat requests rejected by the rate limiter",
			},
		),
	}
}

// ObserveStream records a terminated stream. Safe on a nil receiver.
func (m *Metrics) ObserveStream(family, outcome string, frames int, duration time.Duration) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(family, outcome).Inc()
	m.StreamFramesTotal.WithLabelValues(family).Add(float64(frames))
	m.StreamDuration.WithLabelValues(family).Observe(duration.Seconds())
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Dec()
}

func (m *Metrics) ObserveCompletion(family, outcome string) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(family, outcome).Inc()
}

func (m *Metrics) ObserveUpstreamError(provider string, status int) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.WithLabelValues(provider, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveDocument(kind, outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
