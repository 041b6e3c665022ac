// Package dashboard is a poll-based read model over the monitor. Views serve
// a cached snapshot recomputed on a fixed cadence, so request latency stays
// bounded regardless of trace volume.
package dashboard

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/monitor"
)

// MonitorSource is the slice of the monitor the dashboard reads.
type MonitorSource interface {
	ActiveTraces() []*monitor.WorkflowTrace
	CompletedTraces() []*monitor.WorkflowTrace
	Alerts() []*monitor.PerformanceAlert
}

// Metrics is the aggregate header of the dashboard.
type Metrics struct {
	ActiveWorkflows       int                           `json:"active_workflows"`
	CompletedWorkflows    int                           `json:"completed_workflows"`
	FailedWorkflows       int                           `json:"failed_workflows"`
	AvgWorkflowDurationMs float64                       `json:"avg_workflow_duration_ms"`
	AvgAgentResponseMs    float64                       `json:"avg_agent_response_ms"`
	AlertCounts           map[monitor.AlertSeverity]int `json:"alert_counts"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

// WorkflowSummary is a synthetic workflow state replayed from a trace's spans.
type WorkflowSummary struct {
	WorkflowID     string     `json:"workflow_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	DurationMs     float64    `json:"duration_ms,omitempty"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	FailedSteps    int        `json:"failed_steps"`
	RunningSteps   int        `json:"running_steps"`
	Agents         []string   `json:"agents"`
}

// AgentSummary aggregates every span a given agent produced.
type AgentSummary struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"` // idle, running, error
	TotalExecutions int       `json:"total_executions"`
	SuccessRate     float64   `json:"success_rate"`
	AvgExecutionMs  float64   `json:"avg_execution_ms"`
	LastSeen        time.Time `json:"last_seen"`
}

// snapshot is the atomically swapped cached state.
type snapshot struct {
	Metrics   Metrics                     `json:"metrics"`
	Workflows []WorkflowSummary           `json:"workflows"`
	Agents    []AgentSummary              `json:"agents"`
	Alerts    []*monitor.PerformanceAlert `json:"alerts"`
	Traces    []*monitor.WorkflowTrace    `json:"traces"`
}

// Dashboard polls the monitor and serves cached views.
type Dashboard struct {
	source   MonitorSource
	interval time.Duration

	mu    sync.RWMutex
	state snapshot

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a dashboard over the monitor. interval <= 0 defaults to 5s.
func New(source MonitorSource, interval time.Duration, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	d := &Dashboard{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
	d.Refresh()
	return d
}

// Start launches the poll loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Refresh()
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the poll loop.
func (d *Dashboard) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Refresh recomputes the cached snapshot from the monitor. Called by the
// poll loop; exported so tests and manual triggers can force a recompute.
func (d *Dashboard) Refresh() {
	active := d.source.ActiveTraces()
	completed := d.source.CompletedTraces()
	alerts := d.source.Alerts()

	all := make([]*monitor.WorkflowTrace, 0, len(active)+len(completed))
	all = append(all, active...)
	all = append(all, completed...)

	next := snapshot{
		Metrics:   computeMetrics(active, completed, alerts),
		Workflows: summarizeWorkflows(all),
		Agents:    summarizeAgents(all),
		Alerts:    alerts,
		Traces:    all,
	}

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()
}

func computeMetrics(active, completed []*monitor.WorkflowTrace, alerts []*monitor.PerformanceAlert) Metrics {
	m := Metrics{
		ActiveWorkflows: len(active),
		AlertCounts:     make(map[monitor.AlertSeverity]int),
		UpdatedAt:       time.Now(),
	}

	var durSum float64
	var durN int
	var agentSum float64
	var agentN int
	for _, tr := range completed {
		switch tr.Status {
		case monitor.TraceFailed:
			m.FailedWorkflows++
		default:
			m.CompletedWorkflows++
		}
		if root := tr.RootSpan(); root != nil && root.EndTime != nil {
			durSum += root.DurationMs
			durN++
		}
	}
	for _, tr := range append(append([]*monitor.WorkflowTrace{}, active...), completed...) {
		for _, s := range tr.Spans {
			if s.ParentSpanID == "" || s.EndTime == nil {
				continue
			}
			agentSum += s.DurationMs
			agentN++
		}
	}
	if durN > 0 {
		m.AvgWorkflowDurationMs = durSum / float64(durN)
	}
	if agentN > 0 {
		m.AvgAgentResponseMs = agentSum / float64(agentN)
	}
	for _, a := range alerts {
		if !a.Resolved {
			m.AlertCounts[a.Severity]++
		}
	}
	return m
}

func summarizeWorkflows(traces []*monitor.WorkflowTrace) []WorkflowSummary {
	out := make([]WorkflowSummary, 0, len(traces))
	for _, tr := range traces {
		ws := WorkflowSummary{
			WorkflowID: tr.WorkflowID,
			Name:       tr.WorkflowName,
			StartTime:  tr.StartTime,
			EndTime:    tr.EndTime,
		}
		switch tr.Status {
		case monitor.TraceActive:
			ws.Status = "running"
		case monitor.TraceFailed:
			ws.Status = "failed"
		default:
			ws.Status = "completed"
		}

		agents := map[string]bool{}
		for _, s := range tr.Spans {
			if s.ParentSpanID == "" {
				if total, ok := s.Tags["total_steps"].(int); ok {
					ws.TotalSteps = total
				}
				if s.EndTime != nil {
					ws.DurationMs = s.DurationMs
				}
				continue
			}
			agents[s.Service] = true
			switch s.Status {
			case monitor.SpanCompleted:
				ws.CompletedSteps++
			case monitor.SpanFailed:
				ws.FailedSteps++
			default:
				ws.RunningSteps++
			}
		}
		for a := range agents {
			ws.Agents = append(ws.Agents, a)
		}
		sort.Strings(ws.Agents)
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func summarizeAgents(traces []*monitor.WorkflowTrace) []AgentSummary {
	type acc struct {
		total, completed int
		durSum           float64
		durN             int
		last             *monitor.TraceSpan
	}
	byAgent := map[string]*acc{}

	for _, tr := range traces {
		for _, s := range tr.Spans {
			if s.ParentSpanID == "" {
				continue
			}
			a := byAgent[s.Service]
			if a == nil {
				a = &acc{}
				byAgent[s.Service] = a
			}
			a.total++
			if s.Status == monitor.SpanCompleted {
				a.completed++
			}
			if s.EndTime != nil {
				a.durSum += s.DurationMs
				a.durN++
			}
			if a.last == nil || s.StartTime.After(a.last.StartTime) {
				a.last = s
			}
		}
	}

	out := make([]AgentSummary, 0, len(byAgent))
	for name, a := range byAgent {
		as := AgentSummary{
			Name:            name,
			TotalExecutions: a.total,
			LastSeen:        a.last.StartTime,
		}
		switch a.last.Status {
		case monitor.SpanStarted:
			as.Status = "running"
		case monitor.SpanFailed:
			as.Status = "error"
		default:
			as.Status = "idle"
		}
		if a.total > 0 {
			as.SuccessRate = float64(a.completed) / float64(a.total)
		}
		if a.durN > 0 {
			as.AvgExecutionMs = a.durSum / float64(a.durN)
		}
		out = append(out, as)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overview returns the aggregate metrics header.
func (d *Dashboard) Overview() Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Metrics
}

// Workflows returns the cached workflow summaries, newest first.
func (d *Dashboard) Workflows() []WorkflowSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]WorkflowSummary(nil), d.state.Workflows...)
}

// Agents returns the cached per-agent summaries.
func (d *Dashboard) Agents() []AgentSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]AgentSummary(nil), d.state.Agents...)
}

// Performance returns response-time and duration aggregates.
func (d *Dashboard) Performance() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]any{
		"avg_workflow_duration_ms": d.state.Metrics.AvgWorkflowDurationMs,
		"avg_agent_response_ms":    d.state.Metrics.AvgAgentResponseMs,
		"active_workflows":         d.state.Metrics.ActiveWorkflows,
	}
}

// AlertList returns the cached alerts, resolved included.
func (d *Dashboard) AlertList() []*monitor.PerformanceAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*monitor.PerformanceAlert(nil), d.state.Alerts...)
}

// Traces returns the cached traces.
func (d *Dashboard) Traces() []*monitor.WorkflowTrace {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*monitor.WorkflowTrace(nil), d.state.Traces...)
}

// Export serializes the full cached snapshot as JSON.
func (d *Dashboard) Export() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.MarshalIndent(d.state, "", "  ")
}
