// Package workflow implements the dependency-aware step scheduler that runs
// agent DAGs with bounded parallelism, retry with backoff, and global
// admission control.
package workflow

import (
	"context"
	"time"

	"github.com/inframind/platform/internal/domain"
)

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Status is the lifecycle state of a workflow run. Transitions are monotonic:
// pending -> running -> one of the terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a workflow status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Executor runs one agent invocation. The stepCtx map carries workflow
// context plus a snapshot of shared_data; the returned map's "data" entry, if
// present, is published to shared_data under the agent's name.
type Executor func(ctx context.Context, assessment *domain.Assessment, stepCtx map[string]any) (map[string]any, error)

// StepSpec declares one step when assembling a workflow.
type StepSpec struct {
	ID           string
	Name         string
	Agent        string
	Dependencies []string
	MaxRetries   int // <0 means engine default
}

// Step is the unit of work owned by a workflow run. Mutated only by the
// engine; immutable once terminal.
type Step struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Agent        string         `json:"agent"`
	Dependencies []string       `json:"dependencies"`
	Status       StepStatus     `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
}

// State is one DAG run. The engine's mutex guards all mutation; callers get
// copies via the engine's read accessors.
type State struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Status     Status             `json:"status"`
	Steps      []*Step            `json:"steps"`
	SharedData map[string]any     `json:"shared_data"`
	Assessment *domain.Assessment `json:"assessment,omitempty"`
	Context    map[string]any     `json:"context,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// StepsWithStatus returns the steps currently in the given status. Together
// the five status buckets always partition Steps.
func (s *State) StepsWithStatus(status StepStatus) []*Step {
	var out []*Step
	for _, st := range s.Steps {
		if st.Status == status {
			out = append(out, st)
		}
	}
	return out
}

// CompletedSteps returns the ids of completed steps.
func (s *State) CompletedSteps() []string { return s.stepIDs(StepCompleted) }

// FailedSteps returns the ids of failed steps.
func (s *State) FailedSteps() []string { return s.stepIDs(StepFailed) }

// RunningSteps returns the ids of running steps.
func (s *State) RunningSteps() []string { return s.stepIDs(StepRunning) }

// PendingSteps returns the ids of pending steps.
func (s *State) PendingSteps() []string { return s.stepIDs(StepPending) }

func (s *State) stepIDs(status StepStatus) []string {
	var out []string
	for _, st := range s.Steps {
		if st.Status == status {
			out = append(out, st.ID)
		}
	}
	return out
}

// step returns the step with the given id, or nil.
func (s *State) step(id string) *Step {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}
