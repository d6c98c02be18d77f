package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchveil/rewrite"
)

const namespace = "searchveil"

// metrics holds the Prometheus collectors of one server. Each server owns
// its registry so tests can build many servers in one process.
type metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstream        *prometheus.CounterVec
	rewritten       *prometheus.CounterVec
	lucky           prometheus.Counter
}

func newMetrics(reg *prometheus.Registry, activeSessions func() float64) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		upstream: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		rewritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_elements_total",
			Help:      "Elements shielded or removed by the rewrite pipeline.",
		}, []string{"action"}),
		lucky: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lucky_redirects_total",
			Help:      "Searches answered with a redirect to the first result.",
		}),
	}
	if activeSessions != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory.",
		}, activeSessions)
	}
	return m
}

func (m *metrics) observeRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *metrics) observeUpstream(kind, outcome string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) observeRewrite(s rewrite.Stats) {
	if m == nil {
		return
	}
	m.rewritten.WithLabelValues("shielded").Add(float64(s.Shielded))
	m.rewritten.WithLabelValues("removed").Add(float64(s.Removed))
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
