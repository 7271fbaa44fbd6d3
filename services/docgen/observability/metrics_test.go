// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestRunLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveRuns))

	m.RunFinished("completed")
	m.RunFinished("failed")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

func TestRecordNode(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordNode(KindFile, OutcomeProcessed, 2*time.Second)
	m.RecordNode(KindFile, OutcomeSkipped, 0)
	m.RecordNode(KindDir, OutcomeFailed, time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues(KindFile, OutcomeProcessed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues(KindFile, OutcomeSkipped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues(KindDir, OutcomeFailed)))

	// Only the processed node contributes a latency sample.
	count, err := testutil.GatherAndCount(reg, "aleutian_docgen_node_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordRollup(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordRollup("readme", nil, time.Second)
	m.RecordRollup("reading_guide", errors.New("boom"), time.Second)

	count, err := testutil.GatherAndCount(reg, "aleutian_docgen_rollup_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSubscribers(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SubscriberAttached()
	m.SubscriberAttached()
	m.SubscriberDetached(0)
	m.SubscriberDetached(7)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.LaggedEventsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("completed")
		m.RecordNode(KindFile, OutcomeProcessed, time.Second)
		m.RecordRollup("readme", nil, time.Second)
		m.SubscriberAttached()
		m.SubscriberDetached(1)
	})
}
