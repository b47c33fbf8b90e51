package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	inference   prometheus.Histogram
	predictions *prometheus.CounterVec
}

// NewMetrics registers the service collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tumor_api_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"path", "method", "code"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tumor_api_inference_seconds",
			Help:    "Time spent decoding, preprocessing and scoring one image.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tumor_api_predictions_total",
			Help: "Successful predictions by returned label.",
		}, []string{"label"}),
	}
	m.registry.MustRegister(m.requests, m.inference, m.predictions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(path, method string, code int) {
	m.requests.WithLabelValues(path, method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d.Seconds())
}

func (m *Metrics) ObservePrediction(label string) {
	m.predictions.WithLabelValues(label).Inc()
}
