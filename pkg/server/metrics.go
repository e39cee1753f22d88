package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// metrics is the server's prometheus surface. Every server carries its
// own registry so tests can run several side by side.
type metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queueWait     prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helixdb",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint and status code.",
	}, []string{"endpoint", "status"})
	m.queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "helixdb",
		Name:      "query_duration_seconds",
		Help:      "Query execution time, transaction included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})
	m.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "helixdb",
		Name:      "queue_wait_seconds",
		Help:      "Time a request spent waiting for a worker.",
		Buckets:   prometheus.DefBuckets,
	})
	m.registry.MustRegister(m.requestsTotal, m.queryDuration, m.queueWait)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
