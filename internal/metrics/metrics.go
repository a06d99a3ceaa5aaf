// Package metrics exposes the orchestrator's Prometheus metric catalog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kabuai_turns_started_total",
			Help: "Total number of orchestration turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kabuai_turns_completed_total",
			Help: "Total number of orchestration turns completed",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kabuai_turn_duration_seconds",
			Help:    "Full traversal duration per turn",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlanSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kabuai_plan_steps",
			Help:    "Number of steps in a generated plan (FINISH included)",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// Worker metrics
	WorkerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kabuai_worker_runs_total",
			Help: "Worker pipeline invocations by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	WorkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kabuai_worker_duration_seconds",
			Help:    "Worker pipeline execution duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// Capability metrics
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kabuai_capability_calls_total",
			Help: "External capability calls by capability and status",
		},
		[]string{"capability", "status"},
	)

	CapabilityLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kabuai_capability_latency_seconds",
			Help:    "External capability call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kabuai_events_published_total",
			Help: "Events published to the multiplexer by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kabuai_events_dropped_total",
			Help: "Events dropped due to slow subscribers",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kabuai_stream_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)
)
