package core

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/metrics"
)

type Metrics struct {
	apiResponseTime  *prometheus.HistogramVec
	apiErrorCounter  *prometheus.CounterVec
	sessionsStarted  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	messageRetries   *prometheus.CounterVec
	messageTimeouts  *prometheus.CounterVec
	reconcileMatches *prometheus.CounterVec
	presenceWrites   *prometheus.CounterVec
	staleSessions    *prometheus.GaugeVec
}

func NewMetrics(ns, system string) *Metrics {
	metrics.SetupMetricsManager(ns, system, prometheus.DefaultRegisterer.(*prometheus.Registry))

	return &Metrics{
		apiResponseTime:  metrics.NewHistogramVec("api_response_time", []string{"api"}),
		apiErrorCounter:  metrics.NewCounterVec("api_error", []string{"method", "api", "status"}),
		sessionsStarted:  metrics.NewCounterVec("sessions_started", nil),
		sessionsEnded:    metrics.NewCounterVec("sessions_ended", []string{"reason"}),
		messagesSent:     metrics.NewCounterVec("messages_sent", []string{"role", "result"}),
		messageRetries:   metrics.NewCounterVec("message_retries", nil),
		messageTimeouts:  metrics.NewCounterVec("message_timeouts", nil),
		reconcileMatches: metrics.NewCounterVec("reconcile_matches", []string{"by"}),
		presenceWrites:   metrics.NewCounterVec("presence_writes", []string{"source"}),
		staleSessions:    metrics.NewGaugeVec("stale_sessions", nil),
	}
}

func (m *Metrics) ApiResponseTimer(api string) *prometheus.Timer {
	return prometheus.NewTimer(m.apiResponseTime.WithLabelValues(api))
}

func (m *Metrics) ApiErrorInc(method, api, status string) {
	m.apiErrorCounter.WithLabelValues(method, api, status).Inc()
}

func (m *Metrics) SessionStartedInc() {
	m.sessionsStarted.WithLabelValues().Inc()
}

func (m *Metrics) SessionEndedInc(reason string) {
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessageSentInc(role, result string) {
	m.messagesSent.WithLabelValues(role, result).Inc()
}

func (m *Metrics) MessageRetryInc() {
	m.messageRetries.WithLabelValues().Inc()
}

func (m *Metrics) MessageTimeoutInc() {
	m.messageTimeouts.WithLabelValues().Inc()
}

func (m *Metrics) ReconcileMatchInc(by string) {
	m.reconcileMatches.WithLabelValues(by).Inc()
}

func (m *Metrics) PresenceWriteInc(source string) {
	m.presenceWrites.WithLabelValues(source).Inc()
}

func (m *Metrics) SetStaleSessions(n float64) {
	m.staleSessions.WithLabelValues().Set(n)
}
