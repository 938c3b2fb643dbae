// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "taskrouter_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_capability_calls_total",
			Help: "Capability invocations by outcome (success, error, timeout, empty)",
		},
		[]string{"capability", "outcome"},
	)

	CapabilityLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrouter_capability_latency_seconds",
			Help:    "Capability call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_routing_decisions_total",
			Help: "Routing decisions by intent, tier and rule",
		},
		[]string{"intent", "tier", "rule"},
	)

	PlansCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_plans_total",
			Help: "Plans produced, labelled degraded when the trivial plan was substituted",
		},
		[]string{"degraded"},
	)

	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_steps_total",
			Help: "Plan steps executed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Recoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_recoveries_total",
			Help: "Recovery decisions by action",
		},
		[]string{"action"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"backend", "result"},
	)
)
