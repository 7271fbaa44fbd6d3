// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for documentation runs.
//
// # Description
//
// Metrics include:
//   - Run counters by terminal status and an active-run gauge
//   - Node outcome counters (processed, skipped, failed) by kind
//   - Node and roll-up latency histograms
//   - Progress subscribers and events dropped for lagging subscribers
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint of the serve command.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	docgenSubsystem  = "docgen"
)

// Node kinds and outcomes used as label values.
const (
	KindFile = "file"
	KindDir  = "dir"

	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors for documentation runs.
//
// # Fields
//
//   - RunsTotal: finished runs by status (completed, failed, cancelled)
//   - ActiveRuns: runs currently executing
//   - NodesTotal: node outcomes by kind and outcome
//   - NodeDurationSeconds: wall time of processed nodes by kind
//   - RollupDurationSeconds: wall time of README, guide and graph roll-ups
//   - Subscribers: attached progress subscribers
//   - LaggedEventsTotal: events dropped for slow subscribers
type Metrics struct {
	RunsTotal             *prometheus.CounterVec
	ActiveRuns            prometheus.Gauge
	NodesTotal            *prometheus.CounterVec
	NodeDurationSeconds   *prometheus.HistogramVec
	RollupDurationSeconds *prometheus.HistogramVec
	Subscribers           prometheus.Gauge
	LaggedEventsTotal     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Use prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics on duplicate registration with the same registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "runs_total",
				Help:      "Finished documentation runs by terminal status",
			},
			[]string{"status"},
		),

		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "active_runs",
				Help:      "Documentation runs currently executing",
			},
		),

		NodesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "nodes_total",
				Help:      "Tree nodes handled by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		NodeDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "node_duration_seconds",
				Help:      "Time to generate one node's artifacts in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		RollupDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "rollup_duration_seconds",
				Help:      "Time to generate a project roll-up artifact in seconds",
				Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"artifact", "status"},
		),

		Subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "progress_subscribers",
				Help:      "Attached progress stream subscribers",
			},
		),

		LaggedEventsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docgenSubsystem,
				Name:      "lagged_events_total",
				Help:      "Progress events dropped because a subscriber fell behind",
			},
		),
	}
}

// =============================================================================
// Recording Functions
// =============================================================================

// RunStarted increments the active-run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active-run gauge and counts the outcome.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordNode counts a node outcome. The duration is observed only for
// processed nodes.
func (m *Metrics) RecordNode(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodesTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeProcessed {
		m.NodeDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordRollup observes one roll-up generation.
func (m *Metrics) RecordRollup(artifact string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RollupDurationSeconds.WithLabelValues(artifact, status).Observe(d.Seconds())
}

// SubscriberAttached increments the subscriber gauge.
func (m *Metrics) SubscriberAttached() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

// SubscriberDetached decrements the subscriber gauge and counts the
// events it missed.
func (m *Metrics) SubscriberDetached(lagged uint64) {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
	if lagged > 0 {
		m.LaggedEventsTotal.Add(float64(lagged))
	}
}
