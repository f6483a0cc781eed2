package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskhub"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	degraded *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_responses_total",
			Help:      "Task operations served from the fallback store.",
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.requests, m.latency, m.degraded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}

// Degraded counts an operation answered without real persistence.
func (m *Metrics) Degraded(operation string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(operation).Inc()
}

// RegisterStoreState exposes the persistence gateway state (0 unknown,
// 1 connected, 2 unavailable).
func (m *Metrics) RegisterStoreState(state func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_state",
		Help:      "Document store connection state: 0 unknown, 1 connected, 2 unavailable.",
	}, state))
}

// RegisterCacheStats exposes list cache counters.
func (m *Metrics) RegisterCacheStats(stats func() (hits, misses, errs uint64)) {
	if m == nil {
		return
	}
	pick := func(i int) func() float64 {
		return func() float64 {
			h, mi, e := stats()
			return float64([]uint64{h, mi, e}[i])
		}
	}
	for i, kind := range []string{"hits", "misses", "errors"} {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_" + kind + "_total",
			Help:      "Task list cache " + kind + ".",
		}, pick(i)))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
