package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inframind_workflows_started_total",
			Help: "Total number of workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_workflows_completed_total",
			Help: "Total number of workflows reaching a terminal state",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inframind_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inframind_active_workflows",
			Help: "Number of workflows currently running",
		},
	)

	// Step / agent metrics
	StepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_step_executions_total",
			Help: "Total number of step executions by agent and outcome",
		},
		[]string{"agent", "status"},
	)

	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_step_retries_total",
			Help: "Total number of step retry attempts",
		},
		[]string{"agent"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inframind_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"agent"},
	)

	AdmissionWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inframind_admission_waits_total",
			Help: "Times step launch blocked on the global concurrency cap",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_events_published_total",
			Help: "Total events published on the bus",
		},
		[]string{"type"},
	)

	EventHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_event_handler_failures_total",
			Help: "Event handler errors and panics, isolated at dispatch",
		},
		[]string{"type"},
	)

	// Monitoring metrics
	ActiveTraces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inframind_active_traces",
			Help: "Number of active workflow traces",
		},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_alerts_raised_total",
			Help: "Performance alerts raised by type and severity",
		},
		[]string{"type", "severity"},
	)

	// Quality metrics
	ValidationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_validation_checks_total",
			Help: "Recommendation validation checks by name and status",
		},
		[]string{"check", "status"},
	)

	ValidationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inframind_validation_overall_score",
			Help:    "Overall severity-weighted validation score",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	FeedbackReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_feedback_received_total",
			Help: "User feedback records ingested by type",
		},
		[]string{"type"},
	)

	RecomputeTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_quality_recompute_tasks_total",
			Help: "Quality score recompute tasks by outcome",
		},
		[]string{"outcome"},
	)

	ExperimentAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_experiment_assignments_total",
			Help: "Variant assignments by experiment",
		},
		[]string{"experiment"},
	)

	ImprovementAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_improvement_alerts_total",
			Help: "Quality alerts raised by the continuous improvement loops",
		},
		[]string{"type", "severity"},
	)

	// Collaborator metrics
	PricingLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_pricing_lookups_total",
			Help: "Cloud pricing lookups by provider and cache outcome",
		},
		[]string{"provider", "outcome"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_cache_operations_total",
			Help: "Cache operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframind_store_operations_total",
			Help: "Document store operations by collection and op",
		},
		[]string{"collection", "op"},
	)
)
