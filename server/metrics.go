package server

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/routeguard"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "vmcp_gateway"

type metrics struct {
	reg         *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	sessionOps  *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "route_guard_decisions_total",
			Help:      "Route guard decisions by action and route class.",
		}, []string{"action", "class"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "oauth_transitions_total",
			Help:      "OAuth flow transitions by target state and error kind.",
		}, []string{"to", "kind"}),
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_operations_total",
			Help:      "Session operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(m.requests, m.duration, m.decisions, m.transitions, m.sessionOps)
	return m
}

func (m *metrics) trackBrowsers(live func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "browsers",
		Help:      "Browsers with a live session scope.",
	}, func() float64 { return float64(live()) }))
}

func (m *metrics) observeRequest(route, method string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *metrics) observeDecision(d routeguard.Decision) {
	m.decisions.WithLabelValues(string(d.Action), d.Class.String()).Inc()
}

func (m *metrics) observeTransition(t oauthflow.Transition) {
	m.transitions.WithLabelValues(t.To.String(), string(apperrors.KindOf(t.Err))).Inc()
}

func (m *metrics) observeResult(operation string, res session.Result) {
	outcome := "success"
	if !res.Success {
		outcome = string(res.Kind)
	}
	m.sessionOps.WithLabelValues(operation, outcome).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
