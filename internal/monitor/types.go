package monitor

import "time"

// SpanStatus is the lifecycle state of one traced operation.
type SpanStatus string

const (
	SpanStarted   SpanStatus = "started"
	SpanCompleted SpanStatus = "completed"
	SpanFailed    SpanStatus = "failed"
)

// TraceStatus is the lifecycle state of a whole workflow trace.
type TraceStatus string

const (
	TraceActive    TraceStatus = "active"
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
)

// SpanLog is one ordered log entry attached to a span.
type SpanLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// TraceSpan is one traced operation. DurationMs is set iff EndTime is set.
type TraceSpan struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Operation    string         `json:"operation"`
	Service      string         `json:"service"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	DurationMs   float64        `json:"duration_ms,omitempty"`
	Status       SpanStatus     `json:"status"`
	Tags         map[string]any `json:"tags,omitempty"`
	Logs         []SpanLog      `json:"logs,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// WorkflowTrace is the span tree for one workflow run. Exactly one span has
// no parent (the root).
type WorkflowTrace struct {
	TraceID      string         `json:"trace_id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Spans        []*TraceSpan   `json:"spans"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Status       TraceStatus    `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RootSpan returns the span without a parent, or nil for a malformed trace.
func (t *WorkflowTrace) RootSpan() *TraceSpan {
	for _, s := range t.Spans {
		if s.ParentSpanID == "" {
			return s
		}
	}
	return nil
}

// AlertSeverity ranks performance alerts.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert types raised by the threshold loop.
const (
	AlertHighCPU          = "high_cpu"
	AlertHighMemory       = "high_memory"
	AlertHighErrorRate    = "high_error_rate"
	AlertSlowWorkflow     = "slow_workflow"
	AlertMonitoringSystem = "monitoring_system"
)

// PerformanceAlert is a raised threshold breach. Alerts deduplicate on
// (type, workflow_id, agent_name) while unresolved.
type PerformanceAlert struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	AgentName  string        `json:"agent_name,omitempty"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	CreatedAt  time.Time     `json:"created_at"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}
