// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the commit
// sentry service.
//
// # Description
//
// This package implements Prometheus metrics for the ingestion, scoring,
// event and workflow paths. Metrics include:
//   - Webhook request counters (by outcome)
//   - Upstream fetch failures (by stage)
//   - Verdict and rule-match counters
//   - Event bus publish/drop counters and queue depth
//   - Stream gauges and keepalive counters
//   - Workflow outcome counters and poll duration histograms
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every helper is a no-op on a nil *Metrics, so components can run without
// instrumentation in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "commitsentry"

const (
	ingestSubsystem   = "ingest"
	classifySubsystem = "classifier"
	eventsSubsystem   = "events"
	workflowSubsystem = "workflow"
)

// Metrics holds all Prometheus metrics of the service.
//
// # Fields
//
//   - WebhookRequestsTotal: webhook deliveries by outcome
//   - FetchFailuresTotal: skipped files and commits by stage
//   - VerdictsTotal: classification outcomes by kind
//   - RuleMatchesTotal: rule chain and override hits by rule id
//   - EventsPublishedTotal / EventsDroppedTotal: bus traffic by event type
//   - QueueDepth: events waiting in the bus
//   - ActiveStreams / KeepAlivesTotal / ClientDisconnectsTotal: stream edge
//   - WorkflowOutcomesTotal / WorkflowPollDurationSeconds / WorkflowsInFlight
type Metrics struct {
	WebhookRequestsTotal *prometheus.CounterVec
	FetchFailuresTotal   *prometheus.CounterVec

	VerdictsTotal    *prometheus.CounterVec
	RuleMatchesTotal *prometheus.CounterVec

	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	QueueDepth           prometheus.Gauge

	// Labels: endpoint (sse, websocket)
	ActiveStreams          *prometheus.GaugeVec
	KeepAlivesTotal        *prometheus.CounterVec
	ClientDisconnectsTotal *prometheus.CounterVec

	// Labels: status (SUCCESS, FAILED, UNRESOLVED)
	WorkflowOutcomesTotal       *prometheus.CounterVec
	WorkflowPollDurationSeconds prometheus.Histogram
	WorkflowsInFlight           prometheus.Gauge
}

// DefaultMetrics is the singleton instance registered with the default
// Prometheus registry. Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics initializes the default metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "webhook_requests_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),

		FetchFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "fetch_failures_total",
				Help:      "Upstream fetch failures that caused a unit to be skipped",
			},
			[]string{"stage"},
		),

		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: classifySubsystem,
				Name:      "verdicts_total",
				Help:      "Classification verdicts by kind and profile",
			},
			[]string{"kind", "profile"},
		),

		RuleMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: classifySubsystem,
				Name:      "rule_matches_total",
				Help:      "Rule chain and override matches by rule id",
			},
			[]string{"rule"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "published_total",
				Help:      "Events enqueued on the bus by type",
			},
			[]string{"type"},
		),

		EventsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "dropped_total",
				Help:      "Events dropped by the overflow policy by type",
			},
			[]string{"type"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "queue_depth",
				Help:      "Events waiting for a consumer",
			},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently connected stream consumers",
			},
			[]string{"endpoint"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive events sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total stream consumers that went away",
			},
			[]string{"endpoint"},
		),

		WorkflowOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "outcomes_total",
				Help:      "Remediation workflow results by terminal status",
			},
			[]string{"status"},
		),

		WorkflowPollDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "poll_duration_seconds",
				Help:      "Time from trigger to terminal status in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
			},
		),

		WorkflowsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "in_flight",
				Help:      "Workflow executions currently being polled",
			},
		),
	}
}

// =============================================================================
// Label values
// =============================================================================

// Endpoint labels a stream edge.
type Endpoint string

const (
	EndpointSSE       Endpoint = "sse"
	EndpointWebSocket Endpoint = "websocket"
)

// Webhook outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeIgnored       = "ignored"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeMalformed     = "malformed"
	OutcomeInternalError = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordWebhook records one webhook delivery.
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetchFailure records a unit skipped because an upstream fetch failed.
func (m *Metrics) RecordFetchFailure(stage string) {
	if m == nil {
		return
	}
	m.FetchFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordVerdict records one classification.
func (m *Metrics) RecordVerdict(profile string, unusual, vulnerable bool, rules []string) {
	if m == nil {
		return
	}
	if unusual {
		m.VerdictsTotal.WithLabelValues("unusual", profile).Inc()
	}
	if vulnerable {
		m.VerdictsTotal.WithLabelValues("vulnerable", profile).Inc()
	}
	if !unusual && !vulnerable {
		m.VerdictsTotal.WithLabelValues("clean", profile).Inc()
	}
	for _, r := range rules {
		m.RuleMatchesTotal.WithLabelValues(r).Inc()
	}
}

// RecordPublished records an enqueued event.
func (m *Metrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordDropped records an event discarded by the overflow policy.
func (m *Metrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// SetQueueDepth reports the current bus length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// WorkflowStarted increments the in-flight gauge.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.WorkflowsInFlight.Inc()
}

// WorkflowFinished records a terminal outcome and its total duration.
func (m *Metrics) WorkflowFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.WorkflowsInFlight.Dec()
	m.WorkflowOutcomesTotal.WithLabelValues(status).Inc()
	m.WorkflowPollDurationSeconds.Observe(seconds)
}

// WorkflowAbandoned decrements the in-flight gauge for a poll cancelled on
// shutdown.
func (m *Metrics) WorkflowAbandoned() {
	if m == nil {
		return
	}
	m.WorkflowsInFlight.Dec()
}
