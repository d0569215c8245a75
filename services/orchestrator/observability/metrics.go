// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the streaming
// pipeline and the circuit breakers.
package observability

import (
	"time"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamingMetrics tracks the request/event flow through the ask stream.
type StreamingMetrics struct {
	RequestsTotal  *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	ActiveStreams  prometheus.Gauge
	StreamDuration prometheus.Histogram
}

// NewStreamingMetrics registers the streaming metrics with reg.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "athletegov_stream_requests_total",
			Help: "Ask-stream requests by outcome.",
		}, []string{"outcome"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "athletegov_stream_events_total",
			Help: "Client stream events by type.",
		}, []string{"type"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "athletegov_stream_errors_total",
			Help: "Client error events by taxonomy code.",
		}, []string{"code"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "athletegov_active_streams",
			Help: "Streams currently being served.",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "athletegov_stream_duration_seconds",
			Help:    "End-to-end ask-stream duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

// ObserveStream records one completed stream.
func (m *StreamingMetrics) ObserveStream(outcome string, started time.Time) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.Observe(time.Since(started).Seconds())
}

// =============================================================================
// Breaker Collector
// =============================================================================

// breakerCollector exports the breaker registry's live metrics without
// the breakers having to push updates.
type breakerCollector struct {
	registry *resilience.Registry

	stateDesc      *prometheus.Desc
	failuresDesc   *prometheus.Desc
	rejectionsDesc *prometheus.Desc
	callsDesc      *prometheus.Desc
}

// NewBreakerCollector creates a collector over the breaker registry.
// Register it with the same registerer as the streaming metrics.
func NewBreakerCollector(registry *resilience.Registry) prometheus.Collector {
	return &breakerCollector{
		registry: registry,
		stateDesc: prometheus.NewDesc(
			"athletegov_breaker_state",
			"Circuit state: 0 closed, 1 half-open, 2 open.",
			[]string{"dependency"}, nil,
		),
		failuresDesc: prometheus.NewDesc(
			"athletegov_breaker_failures_total",
			"Lifetime counted failures per dependency.",
			[]string{"dependency"}, nil,
		),
		rejectionsDesc: prometheus.NewDesc(
			"athletegov_breaker_rejections_total",
			"Calls rejected while open per dependency.",
			[]string{"dependency"}, nil,
		),
		callsDesc: prometheus.NewDesc(
			"athletegov_breaker_calls_total",
			"Calls attempted per dependency.",
			[]string{"dependency"}, nil,
		),
	}
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.failuresDesc
	ch <- c.rejectionsDesc
	ch <- c.callsDesc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.registry.Metrics() {
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, stateValue(m.State), m.Name)
		ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(m.TotalFailures), m.Name)
		ch <- prometheus.MustNewConstMetric(c.rejectionsDesc, prometheus.CounterValue, float64(m.TotalRejections), m.Name)
		ch <- prometheus.MustNewConstMetric(c.callsDesc, prometheus.CounterValue, float64(m.TotalCalls), m.Name)
	}
}

func stateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
