// Package observability exposes the Prometheus metrics surface. Metrics are
// process-global and registered lazily so tests can exercise the recording
// paths without a running server.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	exchangeTotal    *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	activeSessions        prometheus.Gauge
	sessionEvictionsTotal prometheus.Counter

	providerCooldown *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			exchangeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sage",
					Name:      "exchange_total",
					Help:      "Total handled exchanges by agent and status.",
				},
				[]string{"agent", "status"},
			),
			exchangeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sage",
					Name:      "exchange_duration_seconds",
					Help:      "Exchange handling duration in seconds by agent.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sage",
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sage",
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sage",
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "sage",
					Name:      "active_sessions",
					Help:      "Current cached session count.",
				},
			),
			sessionEvictionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "sage",
					Name:      "session_evictions_total",
					Help:      "Total sessions removed by eviction sweeps.",
				},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "sage",
					Name:      "provider_cooldown_active",
					Help:      "Auth profile cooldown state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
		}

		prometheus.MustRegister(
			m.exchangeTotal,
			m.exchangeDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.activeSessions,
			m.sessionEvictionsTotal,
			m.providerCooldown,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is
// called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the scrape endpoint handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordExchange records one handled message exchange.
func RecordExchange(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.exchangeTotal.WithLabelValues(agent, status).Inc()
	m.exchangeDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordToolExecution records one tool dispatch.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// SetActiveSessions updates the cached session gauge.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// AddEvictedSessions counts sessions removed by a sweep.
func AddEvictedSessions(count int) {
	if count > 0 {
		getMetrics().sessionEvictionsTotal.Add(float64(count))
	}
}

// SetProviderCooldown flags an auth profile as cooling down.
func SetProviderCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(profile).Set(value)
}
