// Package events provides the typed publish/subscribe bus that decouples the
// workflow engine from the monitoring subsystem. The engine only publishes;
// the monitor only subscribes.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/metrics"
)

// EventType identifies a class of workflow or agent lifecycle event.
type EventType string

const (
	WorkflowStarted   EventType = "workflow_started"
	WorkflowCompleted EventType = "workflow_completed"
	WorkflowFailed    EventType = "workflow_failed"
	WorkflowCancelled EventType = "workflow_cancelled"
	AgentStarted      EventType = "agent_started"
	AgentCompleted    EventType = "agent_completed"
	AgentFailed       EventType = "agent_failed"
	StepRetried       EventType = "step_retried"
)

// AgentEvent is the unit carried on the bus.
type AgentEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	AgentName  string         `json:"agent_name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Seq        uint64         `json:"seq"`
}

// Handler processes one event. Handlers run in registration order; a failing
// handler never prevents later handlers from running.
type Handler func(ctx context.Context, evt AgentEvent) error

// Manager is an in-process typed pub/sub bus with a bounded per-workflow
// replay history.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	history  map[string]*ring
	capacity int
	nextSeq  uint64
	logger   *zap.Logger
}

const defaultHistoryCapacity = 256

// NewManager creates an event manager with the default history capacity.
func NewManager(logger *zap.Logger) *Manager {
	return NewManagerWithCapacity(logger, defaultHistoryCapacity)
}

// NewManagerWithCapacity creates an event manager with a specific per-workflow
// replay ring capacity.
func NewManagerWithCapacity(logger *zap.Logger, capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		history:  make(map[string]*ring),
		capacity: capacity,
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type. Handlers are invoked in
// registration order.
func (m *Manager) Subscribe(t EventType, h Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], h)
}

// Publish assigns an ID and sequence number, records the event in the
// workflow's replay ring, and dispatches to every subscriber of the event
// type. Each handler invocation is isolated: a returned error or panic is
// logged and dispatch continues with the next handler.
func (m *Manager) Publish(ctx context.Context, evt AgentEvent) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.nextSeq++
	evt.Seq = m.nextSeq
	if evt.WorkflowID != "" {
		rg := m.history[evt.WorkflowID]
		if rg == nil {
			rg = newRing(m.capacity)
			m.history[evt.WorkflowID] = rg
		}
		rg.push(evt)
	}
	handlers := make([]Handler, len(m.handlers[evt.Type]))
	copy(handlers, m.handlers[evt.Type])
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for i, h := range handlers {
		m.dispatch(ctx, i, h, evt)
	}
}

// dispatch runs one handler with panic isolation.
func (m *Manager) dispatch(ctx context.Context, idx int, h Handler, evt AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventHandlerFailures.WithLabelValues(string(evt.Type)).Inc()
			m.logger.Error("Event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.Int("handler_index", idx),
				zap.Any("panic", r),
			)
		}
	}()

	if err := h(ctx, evt); err != nil {
		metrics.EventHandlerFailures.WithLabelValues(string(evt.Type)).Inc()
		m.logger.Error("Event handler failed",
			zap.String("event_type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.Int("handler_index", idx),
			zap.Error(err),
		)
	}
}

// ReplaySince returns buffered events for a workflow with Seq > since,
// best-effort within ring capacity. Used to rebuild monitor state.
func (m *Manager) ReplaySince(workflowID string, since uint64) []AgentEvent {
	m.mu.RLock()
	rg := m.history[workflowID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// DropHistory releases the replay ring for a workflow after eviction.
func (m *Manager) DropHistory(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, workflowID)
}

// PublishWorkflowStarted announces a new workflow run.
func (m *Manager) PublishWorkflowStarted(ctx context.Context, workflowID, name string, totalSteps int) {
	m.Publish(ctx, AgentEvent{
		Type:       WorkflowStarted,
		WorkflowID: workflowID,
		Data: map[string]any{
			"workflow_name": name,
			"total_steps":   totalSteps,
		},
	})
}

// PublishWorkflowCompleted announces a successful terminal transition.
func (m *Manager) PublishWorkflowCompleted(ctx context.Context, workflowID string, durationMs float64) {
	m.Publish(ctx, AgentEvent{
		Type:       WorkflowCompleted,
		WorkflowID: workflowID,
		Data:       map[string]any{"duration_ms": durationMs},
	})
}

// PublishWorkflowFailed announces a failed terminal transition.
func (m *Manager) PublishWorkflowFailed(ctx context.Context, workflowID, reason string, durationMs float64) {
	m.Publish(ctx, AgentEvent{
		Type:       WorkflowFailed,
		WorkflowID: workflowID,
		Data: map[string]any{
			"error":       reason,
			"duration_ms": durationMs,
		},
	})
}

// PublishWorkflowCancelled announces a cancelled run.
func (m *Manager) PublishWorkflowCancelled(ctx context.Context, workflowID string) {
	m.Publish(ctx, AgentEvent{Type: WorkflowCancelled, WorkflowID: workflowID})
}

// PublishAgentStarted announces a step entering execution.
func (m *Manager) PublishAgentStarted(ctx context.Context, workflowID, agentName, stepID string) {
	m.Publish(ctx, AgentEvent{
		Type:       AgentStarted,
		WorkflowID: workflowID,
		AgentName:  agentName,
		Data:       map[string]any{"step_id": stepID},
	})
}

// PublishAgentCompleted announces a step finishing successfully.
func (m *Manager) PublishAgentCompleted(ctx context.Context, workflowID, agentName, stepID string, executionMs float64) {
	m.Publish(ctx, AgentEvent{
		Type:       AgentCompleted,
		WorkflowID: workflowID,
		AgentName:  agentName,
		Data: map[string]any{
			"step_id":      stepID,
			"execution_ms": executionMs,
		},
	})
}

// PublishAgentFailed announces a step exhausting its retries.
func (m *Manager) PublishAgentFailed(ctx context.Context, workflowID, agentName, stepID string, stepErr error, executionMs float64) {
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	m.Publish(ctx, AgentEvent{
		Type:       AgentFailed,
		WorkflowID: workflowID,
		AgentName:  agentName,
		Data: map[string]any{
			"step_id":      stepID,
			"error":        msg,
			"execution_ms": executionMs,
		},
	})
}

// PublishStepRetried records a retry attempt for observability.
func (m *Manager) PublishStepRetried(ctx context.Context, workflowID, agentName, stepID string, attempt int, cause error) {
	m.Publish(ctx, AgentEvent{
		Type:       StepRetried,
		WorkflowID: workflowID,
		AgentName:  agentName,
		Data: map[string]any{
			"step_id": stepID,
			"attempt": attempt,
			"error":   fmt.Sprintf("%v", cause),
		},
	})
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf   []AgentEvent
	start int
	count int
}

func newRing(capacity int) *ring { return &ring{buf: make([]AgentEvent, capacity)} }

func (r *ring) push(e AgentEvent) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []AgentEvent {
	if r.count == 0 {
		return nil
	}
	out := make([]AgentEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
