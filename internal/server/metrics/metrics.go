// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadcrm"

// Auth event names.
const (
	EventSignup         = "signup"
	EventLogin          = "login"
	EventRefresh        = "refresh"
	EventLogout         = "logout"
	EventOAuthLogin     = "oauth_login"
	EventVerifyEmail    = "verify_email"
	EventPasswordReset  = "password_reset"
	EventRevokeSessions = "revoke_sessions"
)

type Metrics struct {
	AuthEvents    *prometheus.CounterVec
	TokensCleaned prometheus.Counter
	CleanupRuns   *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	gatherer      prometheus.Gatherer
}

// New registers the collectors with a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication events by type and outcome.",
		}, []string{"event", "outcome"}),
		TokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_cleaned_total",
			Help:      "Expired or revoked refresh tokens deleted by cleanup.",
		}),
		CleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cleanup_runs_total",
			Help:      "Token cleanup runs by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: g,
	}

	reg.MustRegister(m.AuthEvents, m.TokensCleaned, m.CleanupRuns, m.HTTPRequests, m.HTTPDuration)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// AuthEvent counts one auth event; a nil err is a success.
func (m *Metrics) AuthEvent(event string, err error) {
	m.AuthEvents.WithLabelValues(event, outcome(err)).Inc()
}

// Cleanup records one cleanup run.
func (m *Metrics) Cleanup(deleted int64, err error) {
	m.CleanupRuns.WithLabelValues(outcome(err)).Inc()
	if err == nil && deleted > 0 {
		m.TokensCleaned.Add(float64(deleted))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
