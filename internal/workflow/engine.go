package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/domain"
	"github.com/inframind/platform/internal/events"
	"github.com/inframind/platform/internal/metrics"
)

// Engine owns workflow runs and their execution. It publishes lifecycle
// events on the bus and never talks to the monitor directly.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*State
	cancels   map[string]context.CancelFunc
	executors map[string]Executor
	bus       *events.Manager
	admission *semaphore.Weighted
	cfg       config.EngineConfig
	logger    *zap.Logger
}

// stepOutcome carries one finished step execution back to the scheduler loop.
type stepOutcome struct {
	stepID     string
	result     map[string]any
	err        error
	retryCount int
	durationMs float64
}

// NewEngine creates an engine. The global_max_steps config bounds in-flight
// steps across all workflows so concurrent submissions degrade gracefully
// instead of fanning out without limit.
func NewEngine(cfg config.EngineConfig, bus *events.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.GlobalMaxSteps <= 0 {
		cfg.GlobalMaxSteps = 32
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Engine{
		workflows: make(map[string]*State),
		cancels:   make(map[string]context.CancelFunc),
		executors: make(map[string]Executor),
		bus:       bus,
		admission: semaphore.NewWeighted(cfg.GlobalMaxSteps),
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterExecutor binds an agent name to its executor callable.
func (e *Engine) RegisterExecutor(agent string, exec Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[agent] = exec
}

// CreateWorkflow validates the step DAG and stores a new pending run.
func (e *Engine) CreateWorkflow(name string, specs []StepSpec, assessment *domain.Assessment, contextMap map[string]any) (*State, error) {
	if err := validateDAG(specs); err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", name, err)
	}

	steps := make([]*Step, 0, len(specs))
	for _, sp := range specs {
		maxRetries := sp.MaxRetries
		if maxRetries < 0 {
			maxRetries = e.cfg.MaxRetries
		}
		steps = append(steps, &Step{
			ID:           sp.ID,
			Name:         sp.Name,
			Agent:        sp.Agent,
			Dependencies: append([]string(nil), sp.Dependencies...),
			Status:       StepPending,
			MaxRetries:   maxRetries,
		})
	}

	wf := &State{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     StatusPending,
		Steps:      steps,
		SharedData: make(map[string]any),
		Assessment: assessment,
		Context:    contextMap,
		CreatedAt:  time.Now(),
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", name),
		zap.Int("steps", len(steps)),
	)
	return e.snapshot(wf.ID), nil
}

// ExecuteWorkflow runs a pending workflow to a terminal state. Ready steps
// (all dependencies completed) launch up to max_parallel at a time; a failed
// step does not stop unaffected branches, but fails the workflow's final
// status. A detected deadlock is itself a terminal failure.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string) (*State, error) {
	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	if wf.Status != StatusPending {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %s is %s, not pending", workflowID, wf.Status)
	}
	wf.Status = StatusRunning
	now := time.Now()
	wf.StartedAt = &now

	runCtx, cancel := context.WithCancel(ctx)
	e.cancels[workflowID] = cancel
	totalSteps := len(wf.Steps)
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, workflowID)
		e.mu.Unlock()
	}()

	metrics.WorkflowsStarted.Inc()
	metrics.ActiveWorkflows.Inc()
	defer metrics.ActiveWorkflows.Dec()
	e.bus.PublishWorkflowStarted(ctx, workflowID, wf.Name, totalSteps)

	results := make(chan stepOutcome, totalSteps)
	inFlight := 0
	deadlock := false

	for {
		type launch struct {
			stepID, agent string
		}
		var launched []launch

		e.mu.Lock()
		if wf.Status == StatusCancelled {
			e.mu.Unlock()
			break
		}
		for inFlight < e.cfg.MaxParallel {
			st := e.nextReadyLocked(wf)
			if st == nil {
				break
			}
			startAt := time.Now()
			st.Status = StepRunning
			st.StartedAt = &startAt

			exec := e.executors[st.Agent]
			assessment := wf.Assessment
			stepCtx := e.buildStepContextLocked(wf, st)
			inFlight++
			launched = append(launched, launch{stepID: st.ID, agent: st.Agent})
			go e.runStep(runCtx, exec, st.ID, st.Agent, st.MaxRetries, assessment, stepCtx, results)
		}
		pendingLeft := len(wf.StepsWithStatus(StepPending))
		e.mu.Unlock()

		for _, l := range launched {
			e.bus.PublishAgentStarted(ctx, workflowID, l.agent, l.stepID)
		}

		if inFlight == 0 {
			if pendingLeft == 0 {
				break
			}
			// pending steps remain but nothing can run: unsatisfiable dependencies
			deadlock = true
			e.logger.Error("Workflow deadlock detected",
				zap.String("workflow_id", workflowID),
				zap.Int("pending_steps", pendingLeft),
			)
			break
		}

		out := <-results
		inFlight--
		e.applyOutcome(ctx, wf, out)
	}

	return e.finalize(ctx, wf, deadlock), nil
}

// nextReadyLocked returns one pending step whose dependencies are all
// completed. Caller holds e.mu.
func (e *Engine) nextReadyLocked(wf *State) *Step {
	for _, st := range wf.Steps {
		if st.Status != StepPending {
			continue
		}
		ready := true
		for _, dep := range st.Dependencies {
			d := wf.step(dep)
			if d == nil || d.Status != StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			return st
		}
	}
	return nil
}

// buildStepContextLocked snapshots the workflow context and shared_data for
// one step invocation. The snapshot is the sole inter-step channel: executors
// never see live engine state. Caller holds e.mu.
func (e *Engine) buildStepContextLocked(wf *State, st *Step) map[string]any {
	shared := make(map[string]any, len(wf.SharedData))
	for k, v := range wf.SharedData {
		shared[k] = v
	}
	stepCtx := map[string]any{
		"workflow_id":   wf.ID,
		"workflow_name": wf.Name,
		"step_id":       st.ID,
		"step_name":     st.Name,
		"shared_data":   shared,
	}
	if len(wf.Context) > 0 {
		wfCtx := make(map[string]any, len(wf.Context))
		for k, v := range wf.Context {
			wfCtx[k] = v
		}
		stepCtx["context"] = wfCtx
	}
	return stepCtx
}

// runStep executes one step with global admission, retries, and exponential
// backoff (base * 2^attempt). Panics inside an executor count as failures.
func (e *Engine) runStep(ctx context.Context, exec Executor, stepID, agent string, maxRetries int, assessment *domain.Assessment, stepCtx map[string]any, results chan<- stepOutcome) {
	started := time.Now()
	finish := func(out stepOutcome) {
		out.durationMs = float64(time.Since(started).Milliseconds())
		results <- out
	}

	if exec == nil {
		finish(stepOutcome{stepID: stepID, err: fmt.Errorf("no executor registered for agent %q", agent)})
		return
	}

	if !e.admission.TryAcquire(1) {
		metrics.AdmissionWaits.Inc()
		if err := e.admission.Acquire(ctx, 1); err != nil {
			finish(stepOutcome{stepID: stepID, err: fmt.Errorf("admission wait aborted: %w", err)})
			return
		}
	}
	defer e.admission.Release(1)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			finish(stepOutcome{stepID: stepID, err: ctx.Err(), retryCount: attempt})
			return
		}

		result, err := e.invoke(ctx, exec, assessment, stepCtx)
		if err == nil {
			finish(stepOutcome{stepID: stepID, result: result, retryCount: attempt})
			return
		}
		lastErr = err

		if attempt < maxRetries {
			metrics.StepRetries.WithLabelValues(agent).Inc()
			e.bus.PublishStepRetried(ctx, stepCtx["workflow_id"].(string), agent, stepID, attempt+1, err)
			backoff := e.cfg.BackoffBase * (1 << attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				finish(stepOutcome{stepID: stepID, err: ctx.Err(), retryCount: attempt})
				return
			}
		}
	}
	finish(stepOutcome{stepID: stepID, err: lastErr, retryCount: maxRetries})
}

// invoke calls the executor, converting panics into errors so one misbehaving
// agent cannot take down the scheduler.
func (e *Engine) invoke(ctx context.Context, exec Executor, assessment *domain.Assessment, stepCtx map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, assessment, stepCtx)
}

// applyOutcome records a finished step and publishes the matching event.
func (e *Engine) applyOutcome(ctx context.Context, wf *State, out stepOutcome) {
	e.mu.Lock()
	st := wf.step(out.stepID)
	if st == nil || st.Status != StepRunning {
		// cancelled runs mark running steps skipped; late outcomes are dropped
		e.mu.Unlock()
		return
	}
	now := time.Now()
	st.EndedAt = &now
	st.RetryCount = out.retryCount

	if out.err != nil {
		st.Status = StepFailed
		st.Error = out.err.Error()
	} else {
		st.Status = StepCompleted
		st.Result = out.result
		if data, ok := out.result["data"].(map[string]any); ok {
			// sole inter-step channel: downstream steps read this snapshot
			wf.SharedData[st.Agent] = data
		}
	}
	agent := st.Agent
	statusStr := string(st.Status)
	workflowID := wf.ID
	e.mu.Unlock()

	metrics.StepExecutions.WithLabelValues(agent, statusStr).Inc()
	metrics.AgentExecutionDuration.WithLabelValues(agent).Observe(out.durationMs)

	if out.err != nil {
		e.logger.Warn("Step failed",
			zap.String("workflow_id", workflowID),
			zap.String("step_id", out.stepID),
			zap.String("agent", agent),
			zap.Int("retries", out.retryCount),
			zap.Error(out.err),
		)
		e.bus.PublishAgentFailed(ctx, workflowID, agent, out.stepID, out.err, out.durationMs)
		return
	}
	e.bus.PublishAgentCompleted(ctx, workflowID, agent, out.stepID, out.durationMs)
}

// finalize computes the terminal status and publishes the terminal event.
func (e *Engine) finalize(ctx context.Context, wf *State, deadlock bool) *State {
	e.mu.Lock()
	transitioned := false
	if wf.Status == StatusRunning {
		transitioned = true
		switch {
		case len(wf.FailedSteps()) > 0:
			wf.Status = StatusFailed
			wf.Error = fmt.Sprintf("%d step(s) failed", len(wf.FailedSteps()))
		case deadlock:
			wf.Status = StatusFailed
			wf.Error = "deadlock: pending steps with unsatisfiable dependencies"
		default:
			wf.Status = StatusCompleted
		}
		now := time.Now()
		wf.EndedAt = &now
	}
	status := wf.Status
	workflowID := wf.ID
	var durationMs float64
	if wf.StartedAt != nil && wf.EndedAt != nil {
		durationMs = float64(wf.EndedAt.Sub(*wf.StartedAt).Milliseconds())
	}
	errMsg := wf.Error
	e.mu.Unlock()

	// Cancelled runs were already counted by CancelWorkflow.
	if transitioned {
		metrics.WorkflowsCompleted.WithLabelValues(string(status)).Inc()
	}
	metrics.WorkflowDuration.Observe(durationMs / 1000)

	switch status {
	case StatusCompleted:
		e.bus.PublishWorkflowCompleted(ctx, workflowID, durationMs)
	case StatusFailed:
		e.bus.PublishWorkflowFailed(ctx, workflowID, errMsg, durationMs)
	}

	e.logger.Info("Workflow finished",
		zap.String("workflow_id", workflowID),
		zap.String("status", string(status)),
		zap.Float64("duration_ms", durationMs),
	)
	return e.snapshot(workflowID)
}

// CancelWorkflow stops a running workflow: running steps are marked skipped
// and end-timed, and the run context is cancelled so in-flight executors
// observing ctx stop early. Pending steps never start.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("workflow %s not found", workflowID)
	}
	if wf.Status != StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("workflow %s is %s, only running workflows can be cancelled", workflowID, wf.Status)
	}
	wf.Status = StatusCancelled
	now := time.Now()
	wf.EndedAt = &now
	for _, st := range wf.Steps {
		if st.Status == StepRunning {
			st.Status = StepSkipped
			st.EndedAt = &now
		}
	}
	cancel := e.cancels[workflowID]
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.WorkflowsCompleted.WithLabelValues(string(StatusCancelled)).Inc()
	e.bus.PublishWorkflowCancelled(ctx, workflowID)
	e.logger.Info("Workflow cancelled", zap.String("workflow_id", workflowID))
	return nil
}

// GetWorkflow returns a copy of a run's state.
func (e *Engine) GetWorkflow(workflowID string) (*State, bool) {
	s := e.snapshot(workflowID)
	return s, s != nil
}

// ListWorkflows returns copies of all known runs.
func (e *Engine) ListWorkflows() []*State {
	e.mu.RLock()
	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	out := make([]*State, 0, len(ids))
	for _, id := range ids {
		if s := e.snapshot(id); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// CleanupCompletedWorkflows evicts terminal runs older than maxAge and
// releases their event replay history. Returns the eviction count.
func (e *Engine) CleanupCompletedWorkflows(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var evicted []string

	e.mu.Lock()
	for id, wf := range e.workflows {
		if wf.Status.Terminal() && wf.EndedAt != nil && wf.EndedAt.Before(cutoff) {
			delete(e.workflows, id)
			evicted = append(evicted, id)
		}
	}
	e.mu.Unlock()

	for _, id := range evicted {
		e.bus.DropHistory(id)
	}
	if len(evicted) > 0 {
		e.logger.Info("Evicted completed workflows", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// snapshot deep-copies a workflow's state for external readers.
func (e *Engine) snapshot(workflowID string) *State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil
	}
	cp := *wf
	cp.Steps = make([]*Step, len(wf.Steps))
	for i, st := range wf.Steps {
		s := *st
		cp.Steps[i] = &s
	}
	cp.SharedData = make(map[string]any, len(wf.SharedData))
	for k, v := range wf.SharedData {
		cp.SharedData[k] = v
	}
	return &cp
}
