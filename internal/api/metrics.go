package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	inference   prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wrn_http_requests_total", Help: "HTTP requests by method and status code."},
			[]string{"code", "method"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "wrn_http_request_duration_seconds", Help: "HTTP request latency.", Buckets: prometheus.DefBuckets},
			[]string{"code", "method"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wrn_predictions_total", Help: "Classifications by predicted label."},
			[]string{"label"},
		),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wrn_inference_duration_seconds",
			Help:    "Forward pass latency for a single image.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.predictions,
		m.inference,
		prometheus.NewGoCollector(),
	)
	return m
}

// Wrap instruments next with request counters and latency histograms.
func (m *Metrics) Wrap(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.requests,
		promhttp.InstrumentHandlerDuration(m.latency, next))
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observePrediction(label string, d time.Duration) {
	m.predictions.WithLabelValues(label).Inc()
	m.inference.Observe(d.Seconds())
}
