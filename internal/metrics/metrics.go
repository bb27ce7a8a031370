package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_workflows_started_total",
			Help: "Total number of turn workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_workflows_completed_total",
			Help: "Total number of turn workflows completed",
		},
		[]string{"mode", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesdesk_workflow_duration_seconds",
			Help:    "Turn workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_routing_decisions_total",
			Help: "Routing decisions by resolved intent and execution mode",
		},
		[]string{"intent", "mode"},
	)

	ClassifierFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_routing_classifier_fallbacks_total",
			Help: "Times the model classifier was unreachable or unparseable and the rule-based result was used",
		},
	)

	// Worker metrics
	WorkerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_worker_invocations_total",
			Help: "Worker invocations by worker name and outcome",
		},
		[]string{"worker", "status"},
	)

	WorkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesdesk_worker_duration_ms",
			Help:    "Worker invocation duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"worker"},
	)

	UnknownWorkerSubstitutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_unknown_worker_substitutions_total",
			Help: "Dispatches that named an unregistered worker and were substituted with the default worker",
		},
	)

	ParallelTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_parallel_truncations_total",
			Help: "Parallel dispatches whose worker set exceeded the fan-out cap and was truncated",
		},
	)

	// Safety guard metrics
	SafetyViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_safety_violations_total",
			Help: "Safety guard violations by reason",
		},
		[]string{"reason"},
	)

	// Aggregation metrics
	AggregationStrategies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_aggregation_strategies_total",
			Help: "Aggregations performed by selected strategy",
		},
		[]string{"strategy"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_sessions_created_total",
			Help: "Total number of safety sessions created",
		},
	)

	SessionResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_session_resets_total",
			Help: "Safety sessions reset by reason (idle, lifetime)",
		},
		[]string{"reason"},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "salesdesk_session_cache_size",
			Help: "Number of safety sessions held in the local cache",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_session_cache_hits_total",
			Help: "Local session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesdesk_session_cache_misses_total",
			Help: "Local session cache misses",
		},
	)
)
