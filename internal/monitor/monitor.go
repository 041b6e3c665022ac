// Package monitor builds workflow traces from bus events, evaluates
// performance thresholds, and raises deduplicated alerts. It never talks to
// the engine directly; the event bus is the only coupling.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/events"
	"github.com/inframind/platform/internal/metrics"
)

// MetricsCollaborator is the slice of the metrics collector the monitor needs.
type MetricsCollaborator interface {
	RecordMetric(name string, value float64)
	RecordAgentPerformance(agentName string, executionMs float64, success bool, assessmentID string)
	GetSystemHealth() metrics.SystemHealth
}

// otelRun tracks the mirrored OpenTelemetry spans for one workflow.
type otelRun struct {
	ctx      context.Context
	root     trace.Span
	children map[string]trace.Span
}

// Monitor is the tracing and alerting subsystem.
type Monitor struct {
	mu        sync.RWMutex
	active    map[string]*WorkflowTrace        // workflowID -> trace
	spans     map[string]map[string]*TraceSpan // workflowID -> (agent|step) -> span
	completed []*WorkflowTrace
	alerts    map[string]*PerformanceAlert // alertID -> alert

	cfg       config.MonitorConfig
	collector MetricsCollaborator
	tracer    trace.Tracer
	otelRuns  map[string]*otelRun

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a monitor. tracer may be nil when OTLP export is disabled.
func New(cfg config.MonitorConfig, collector MetricsCollaborator, tracer trace.Tracer, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ThresholdInterval <= 0 {
		cfg.ThresholdInterval = 30 * time.Second
	}
	if cfg.TraceRetention <= 0 {
		cfg.TraceRetention = 24 * time.Hour
	}
	if cfg.WorkflowDurationMs <= 0 {
		cfg.WorkflowDurationMs = 300000
	}
	return &Monitor{
		active:    make(map[string]*WorkflowTrace),
		spans:     make(map[string]map[string]*TraceSpan),
		alerts:    make(map[string]*PerformanceAlert),
		cfg:       cfg,
		collector: collector,
		tracer:    tracer,
		otelRuns:  make(map[string]*otelRun),
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
}

// Register subscribes the monitor's handlers on the bus.
func (m *Monitor) Register(bus *events.Manager) {
	bus.Subscribe(events.WorkflowStarted, m.onWorkflowStarted)
	bus.Subscribe(events.AgentStarted, m.onAgentStarted)
	bus.Subscribe(events.AgentCompleted, m.onAgentCompleted)
	bus.Subscribe(events.AgentFailed, m.onAgentFailed)
	bus.Subscribe(events.WorkflowCompleted, m.onWorkflowTerminal)
	bus.Subscribe(events.WorkflowFailed, m.onWorkflowTerminal)
	bus.Subscribe(events.WorkflowCancelled, m.onWorkflowTerminal)
}

// Start launches the threshold and eviction loops.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the background loops and waits for them to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	thresholds := time.NewTicker(m.cfg.ThresholdInterval)
	defer thresholds.Stop()
	eviction := time.NewTicker(10 * time.Minute)
	defer eviction.Stop()

	for {
		select {
		case <-thresholds.C:
			m.evaluateThresholds()
		case <-eviction.C:
			m.evictCompletedTraces()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) onWorkflowStarted(ctx context.Context, evt events.AgentEvent) error {
	name, _ := evt.Data["workflow_name"].(string)
	totalSteps, _ := evt.Data["total_steps"].(int)

	now := time.Now()
	traceID := uuid.New().String()
	root := &TraceSpan{
		SpanID:    uuid.New().String(),
		TraceID:   traceID,
		Operation: "workflow_execution",
		Service:   "workflow_engine",
		StartTime: now,
		Status:    SpanStarted,
		Tags: map[string]any{
			"workflow_id":   evt.WorkflowID,
			"workflow_name": name,
			"total_steps":   totalSteps,
		},
	}
	tr := &WorkflowTrace{
		TraceID:      traceID,
		WorkflowID:   evt.WorkflowID,
		WorkflowName: name,
		Spans:        []*TraceSpan{root},
		StartTime:    now,
		Status:       TraceActive,
		Metadata:     map[string]any{"total_steps": totalSteps},
	}

	m.mu.Lock()
	m.active[evt.WorkflowID] = tr
	m.spans[evt.WorkflowID] = make(map[string]*TraceSpan)
	if m.tracer != nil {
		octx, ospan := m.tracer.Start(context.Background(), "workflow_execution",
			trace.WithAttributes(
				attribute.String("workflow.id", evt.WorkflowID),
				attribute.String("workflow.name", name),
				attribute.Int("workflow.total_steps", totalSteps),
			))
		m.otelRuns[evt.WorkflowID] = &otelRun{ctx: octx, root: ospan, children: make(map[string]trace.Span)}
	}
	m.mu.Unlock()

	metrics.ActiveTraces.Inc()
	return nil
}

func (m *Monitor) onAgentStarted(ctx context.Context, evt events.AgentEvent) error {
	stepID, _ := evt.Data["step_id"].(string)
	key := spanKey(evt.AgentName, stepID)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.active[evt.WorkflowID]
	if !ok {
		return fmt.Errorf("agent_started for unknown workflow %s", evt.WorkflowID)
	}
	span := &TraceSpan{
		SpanID:       uuid.New().String(),
		TraceID:      tr.TraceID,
		ParentSpanID: tr.RootSpan().SpanID,
		Operation:    "agent_execution",
		Service:      evt.AgentName,
		StartTime:    now,
		Status:       SpanStarted,
		Tags: map[string]any{
			"agent_name": evt.AgentName,
			"step_id":    stepID,
		},
	}
	tr.Spans = append(tr.Spans, span)
	m.spans[evt.WorkflowID][key] = span

	if run := m.otelRuns[evt.WorkflowID]; run != nil {
		_, child := m.tracer.Start(run.ctx, "agent_execution",
			trace.WithAttributes(
				attribute.String("agent.name", evt.AgentName),
				attribute.String("step.id", stepID),
			))
		run.children[key] = child
	}
	return nil
}

func (m *Monitor) onAgentCompleted(ctx context.Context, evt events.AgentEvent) error {
	return m.closeAgentSpan(evt, true)
}

func (m *Monitor) onAgentFailed(ctx context.Context, evt events.AgentEvent) error {
	return m.closeAgentSpan(evt, false)
}

func (m *Monitor) closeAgentSpan(evt events.AgentEvent, success bool) error {
	stepID, _ := evt.Data["step_id"].(string)
	executionMs, _ := evt.Data["execution_ms"].(float64)
	errMsg, _ := evt.Data["error"].(string)
	assessmentID, _ := evt.Metadata["assessment_id"].(string)
	key := spanKey(evt.AgentName, stepID)
	now := time.Now()

	m.mu.Lock()
	span := m.spans[evt.WorkflowID][key]
	if span != nil {
		span.EndTime = &now
		span.DurationMs = executionMs
		if success {
			span.Status = SpanCompleted
		} else {
			span.Status = SpanFailed
			span.Error = errMsg
		}
		span.Logs = append(span.Logs, SpanLog{
			Timestamp: now,
			Message:   "agent finished",
			Fields:    map[string]any{"success": success, "execution_ms": executionMs},
		})
		delete(m.spans[evt.WorkflowID], key)
	}
	var ospan trace.Span
	if run := m.otelRuns[evt.WorkflowID]; run != nil {
		ospan = run.children[key]
		delete(run.children, key)
	}
	m.mu.Unlock()

	if ospan != nil {
		if !success {
			ospan.SetStatus(codes.Error, errMsg)
		}
		ospan.SetAttributes(attribute.Float64("execution_ms", executionMs))
		ospan.End()
	}

	if span == nil {
		return fmt.Errorf("span %s not open for workflow %s", key, evt.WorkflowID)
	}
	m.recordAgentPerformance(evt.AgentName, executionMs, success, assessmentID)
	return nil
}

// recordAgentPerformance forwards to the metrics collaborator; a collaborator
// failure is escalated to a critical alert instead of being dropped.
func (m *Monitor) recordAgentPerformance(agent string, executionMs float64, success bool, assessmentID string) {
	defer func() {
		if r := recover(); r != nil {
			m.raiseAlert(AlertMonitoringSystem, SeverityCritical,
				fmt.Sprintf("metrics collector failure: %v", r), "", agent, 0, 0)
		}
	}()
	m.collector.RecordAgentPerformance(agent, executionMs, success, assessmentID)
}

func (m *Monitor) onWorkflowTerminal(ctx context.Context, evt events.AgentEvent) error {
	durationMs, _ := evt.Data["duration_ms"].(float64)
	errMsg, _ := evt.Data["error"].(string)
	now := time.Now()

	m.mu.Lock()
	tr, ok := m.active[evt.WorkflowID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("terminal event for unknown workflow %s", evt.WorkflowID)
	}
	delete(m.active, evt.WorkflowID)

	// close any spans the engine never reported closed
	for _, span := range m.spans[evt.WorkflowID] {
		span.EndTime = &now
		span.DurationMs = float64(now.Sub(span.StartTime).Milliseconds())
		span.Status = SpanFailed
		span.Error = "workflow ended before span closed"
	}
	delete(m.spans, evt.WorkflowID)

	root := tr.RootSpan()
	root.EndTime = &now
	root.DurationMs = float64(now.Sub(root.StartTime).Milliseconds())

	switch evt.Type {
	case events.WorkflowFailed:
		tr.Status = TraceFailed
		root.Status = SpanFailed
		root.Error = errMsg
	case events.WorkflowCancelled:
		tr.Status = TraceCompleted
		root.Status = SpanCompleted
		tr.Metadata["cancelled"] = true
	default:
		tr.Status = TraceCompleted
		root.Status = SpanCompleted
	}
	tr.EndTime = &now
	m.completed = append(m.completed, tr)

	run := m.otelRuns[evt.WorkflowID]
	delete(m.otelRuns, evt.WorkflowID)
	m.mu.Unlock()

	if run != nil {
		for _, child := range run.children {
			child.End()
		}
		if evt.Type == events.WorkflowFailed {
			run.root.SetStatus(codes.Error, errMsg)
		}
		run.root.End()
	}

	metrics.ActiveTraces.Dec()
	m.recordWorkflowDuration(durationMs)
	m.logger.Debug("Trace closed",
		zap.String("workflow_id", evt.WorkflowID),
		zap.String("status", string(tr.Status)),
	)
	return nil
}

func (m *Monitor) recordWorkflowDuration(durationMs float64) {
	defer func() {
		if r := recover(); r != nil {
			m.raiseAlert(AlertMonitoringSystem, SeverityCritical,
				fmt.Sprintf("metrics collector failure: %v", r), "", "", 0, 0)
		}
	}()
	m.collector.RecordMetric("workflow.duration_ms", durationMs)
}

// evaluateThresholds is one tick of the 30s loop: system health plus
// wall-clock duration of every still-active trace.
func (m *Monitor) evaluateThresholds() {
	health, err := m.systemHealth()
	if err != nil {
		m.raiseAlert(AlertMonitoringSystem, SeverityCritical, err.Error(), "", "", 0, 0)
	} else {
		if health.CPUUsagePercent > m.cfg.CPUPercent {
			m.raiseAlert(AlertHighCPU, SeverityHigh,
				fmt.Sprintf("cpu usage %.1f%% exceeds %.1f%%", health.CPUUsagePercent, m.cfg.CPUPercent),
				"", "", health.CPUUsagePercent, m.cfg.CPUPercent)
		}
		if health.MemoryUsagePercent > m.cfg.MemoryPercent {
			m.raiseAlert(AlertHighMemory, SeverityHigh,
				fmt.Sprintf("memory usage %.1f%% exceeds %.1f%%", health.MemoryUsagePercent, m.cfg.MemoryPercent),
				"", "", health.MemoryUsagePercent, m.cfg.MemoryPercent)
		}
		if health.ErrorRatePercent > m.cfg.ErrorRatePercent {
			m.raiseAlert(AlertHighErrorRate, SeverityMedium,
				fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", health.ErrorRatePercent, m.cfg.ErrorRatePercent),
				"", "", health.ErrorRatePercent, m.cfg.ErrorRatePercent)
		}
	}

	now := time.Now()
	m.mu.RLock()
	type slow struct {
		workflowID string
		elapsed    float64
	}
	var slowRuns []slow
	for id, tr := range m.active {
		elapsed := float64(now.Sub(tr.StartTime).Milliseconds())
		if elapsed > m.cfg.WorkflowDurationMs {
			slowRuns = append(slowRuns, slow{workflowID: id, elapsed: elapsed})
		}
	}
	m.mu.RUnlock()

	for _, s := range slowRuns {
		m.raiseAlert(AlertSlowWorkflow, SeverityMedium,
			fmt.Sprintf("workflow running for %.0f ms, threshold %.0f ms", s.elapsed, m.cfg.WorkflowDurationMs),
			s.workflowID, "", s.elapsed, m.cfg.WorkflowDurationMs)
	}
}

func (m *Monitor) systemHealth() (health metrics.SystemHealth, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metrics collector failure: %v", r)
		}
	}()
	return m.collector.GetSystemHealth(), nil
}

// raiseAlert creates an alert unless an unresolved one with the same
// (type, workflow_id, agent_name) already exists.
func (m *Monitor) raiseAlert(alertType string, severity AlertSeverity, message, workflowID, agentName string, value, threshold float64) {
	m.mu.Lock()
	for _, a := range m.alerts {
		if !a.Resolved && a.Type == alertType && a.WorkflowID == workflowID && a.AgentName == agentName {
			m.mu.Unlock()
			return
		}
	}
	alert := &PerformanceAlert{
		ID:         uuid.New().String(),
		Type:       alertType,
		Severity:   severity,
		Message:    message,
		WorkflowID: workflowID,
		AgentName:  agentName,
		Value:      value,
		Threshold:  threshold,
		CreatedAt:  time.Now(),
	}
	m.alerts[alert.ID] = alert
	m.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(alertType, string(severity)).Inc()
	m.logger.Warn("Performance alert raised",
		zap.String("type", alertType),
		zap.String("severity", string(severity)),
		zap.String("workflow_id", workflowID),
		zap.String("message", message),
	)
}

// ResolveAlert marks an alert resolved. Returns false for unknown ids.
func (m *Monitor) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		return ok && a.Resolved
	}
	now := time.Now()
	a.Resolved = true
	a.ResolvedAt = &now
	return true
}

// evictCompletedTraces drops completed traces past the retention window.
func (m *Monitor) evictCompletedTraces() {
	cutoff := time.Now().Add(-m.cfg.TraceRetention)
	m.mu.Lock()
	kept := m.completed[:0]
	evicted := 0
	for _, tr := range m.completed {
		if tr.EndTime != nil && tr.EndTime.Before(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, tr)
	}
	m.completed = kept
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Info("Evicted completed traces", zap.Int("count", evicted))
	}
}

// ActiveTraces returns copies of all active traces.
func (m *Monitor) ActiveTraces() []*WorkflowTrace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkflowTrace, 0, len(m.active))
	for _, tr := range m.active {
		out = append(out, copyTrace(tr))
	}
	return out
}

// CompletedTraces returns copies of retained completed traces.
func (m *Monitor) CompletedTraces() []*WorkflowTrace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkflowTrace, 0, len(m.completed))
	for _, tr := range m.completed {
		out = append(out, copyTrace(tr))
	}
	return out
}

// GetTrace returns the trace for a workflow, active or completed.
func (m *Monitor) GetTrace(workflowID string) (*WorkflowTrace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tr, ok := m.active[workflowID]; ok {
		return copyTrace(tr), true
	}
	for _, tr := range m.completed {
		if tr.WorkflowID == workflowID {
			return copyTrace(tr), true
		}
	}
	return nil, false
}

// Alerts returns copies of all alerts, resolved included.
func (m *Monitor) Alerts() []*PerformanceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PerformanceAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// ActiveAlerts returns copies of unresolved alerts.
func (m *Monitor) ActiveAlerts() []*PerformanceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PerformanceAlert
	for _, a := range m.alerts {
		if !a.Resolved {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

func copyTrace(tr *WorkflowTrace) *WorkflowTrace {
	cp := *tr
	cp.Spans = make([]*TraceSpan, len(tr.Spans))
	for i, s := range tr.Spans {
		sc := *s
		cp.Spans[i] = &sc
	}
	cp.Metadata = make(map[string]any, len(tr.Metadata))
	for k, v := range tr.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func spanKey(agent, stepID string) string { return agent + "|" + stepID }
