// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring routed chat
// operations. Metrics include:
//   - Query counters (by query type and status)
//   - Latency histograms (classification, full branch execution)
//   - Active stream gauges
//   - Error counters by taxonomy code
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "concierge"

// Subsystem for routing metrics
const routingSubsystem = "routing"

// RoutingMetrics holds all Prometheus metrics for routed chat operations.
//
// Initialize once at startup via InitMetrics(); handler code reads the
// DefaultMetrics singleton and must tolerate it being nil in tests.
type RoutingMetrics struct {
	// QueriesTotal counts processed messages by query type and status.
	// Labels: query_type, status (success, error)
	QueriesTotal *prometheus.CounterVec

	// ClassificationSeconds measures intent classification latency.
	ClassificationSeconds prometheus.Histogram

	// BranchDurationSeconds measures full branch execution duration.
	// Labels: query_type, status (success, error)
	BranchDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open chat streams.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts failures by taxonomy code.
	// Labels: error_code (invalid_input, classification_unavailable,
	// unsafe_query, retrieval_failure, internal, client_disconnect)
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of RoutingMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RoutingMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *RoutingMetrics {
	DefaultMetrics = &RoutingMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "queries_total",
				Help:      "Total processed chat messages by query type and status",
			},
			[]string{"query_type", "status"},
		),

		ClassificationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "classification_seconds",
				Help:      "Intent classification latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		BranchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "branch_duration_seconds",
				Help:      "Full branch pipeline duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"query_type", "status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open chat streams",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "errors_total",
				Help:      "Total routing failures by taxonomy code",
			},
			[]string{"error_code"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "invalid_input"

	// ErrorCodeClassification indicates the routing model was unavailable.
	ErrorCodeClassification ErrorCode = "classification_unavailable"

	// ErrorCodeUnsafeQuery indicates generated SQL failed validation.
	ErrorCodeUnsafeQuery ErrorCode = "unsafe_query"

	// ErrorCodeRetrieval indicates a backing store failure.
	ErrorCodeRetrieval ErrorCode = "retrieval_failure"

	// ErrorCodeInternal indicates an uncategorized internal error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client went away mid-stream.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordQuery records a completed message by query type.
func (m *RoutingMetrics) RecordQuery(queryType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(queryType, status).Inc()
}

// RecordClassification records intent classification latency.
func (m *RoutingMetrics) RecordClassification(seconds float64) {
	m.ClassificationSeconds.Observe(seconds)
}

// RecordBranchDuration records a branch pipeline's duration.
func (m *RoutingMetrics) RecordBranchDuration(queryType string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.BranchDurationSeconds.WithLabelValues(queryType, status).Observe(seconds)
}

// RecordError records a routing failure.
func (m *RoutingMetrics) RecordError(code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *RoutingMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *RoutingMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordKeepAlive increments the keepalive counter.
func (m *RoutingMetrics) RecordKeepAlive() {
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *RoutingMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}
