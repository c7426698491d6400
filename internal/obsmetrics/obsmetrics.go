// Package obsmetrics exposes the control plane's Prometheus metrics (spec
// §7): the error-handling design demands that every error kind be
// observable via tagged counters. Metrics are registered against the
// Registry that New builds, so cmd/ binaries only need to mount its
// Gatherer behind a handler.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the collector registry cmd/ binaries mount behind
// promhttp.HandlerFor. Kept separate from prometheus.DefaultRegisterer so
// tests can construct an isolated Metrics without touching global state.
type Registry struct {
	reg *prometheus.Registry

	PingFailures      *prometheus.CounterVec
	RouterUpdates     *prometheus.CounterVec
	RouterUpdateFails *prometheus.CounterVec
	RateLimitEvents   *prometheus.CounterVec
	SteeringTransitions *prometheus.CounterVec
	CycleDurationSeconds *prometheus.HistogramVec
	QueueRateMbps     *prometheus.GaugeVec
}

// New builds a fresh Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		PingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cake_autorate", Name: "ping_failures_total",
			Help: "Count of reflector ping failures, labeled by wan and reflector.",
		}, []string{"wan", "reflector"}),
		RouterUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cake_autorate", Name: "router_updates_total",
			Help: "Count of successful router write calls, labeled by wan and operation.",
		}, []string{"wan", "operation"}),
		RouterUpdateFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cake_autorate", Name: "router_update_failures_total",
			Help: "Count of failed router write calls, labeled by wan and operation.",
		}, []string{"wan", "operation"}),
		RateLimitEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cake_autorate", Name: "rate_limit_events_total",
			Help: "Count of cycles where a router write was skipped due to the sliding-window rate limiter.",
		}, []string{"wan"}),
		SteeringTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cake_autorate", Name: "steering_transitions_total",
			Help: "Count of GOOD/DEGRADED steering transitions, labeled by direction.",
		}, []string{"from", "to"}),
		CycleDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cake_autorate", Name: "cycle_duration_seconds",
			Help:    "Control-loop cycle execution time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"controller"}),
		QueueRateMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cake_autorate", Name: "queue_rate_mbps",
			Help: "Current applied queue rate limit, labeled by wan and direction.",
		}, []string{"wan", "direction"}),
	}

	reg.MustRegister(
		m.PingFailures, m.RouterUpdates, m.RouterUpdateFails,
		m.RateLimitEvents, m.SteeringTransitions, m.CycleDurationSeconds, m.QueueRateMbps,
	)
	return m
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
