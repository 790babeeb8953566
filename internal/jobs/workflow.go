package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/events"
)

// Step is one unit of a workflow. Steps run in order against a shared
// execution state; a failed step fails the whole execution.
type Step struct {
	Name string
	Run  func(ctx context.Context, state *WorkflowState) error
}

// WorkflowState is the mutable bag passed through a workflow's steps.
type WorkflowState struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Input          map[string]any
	Output         map[string]any
}

// Workflow is a named sequence of steps.
type Workflow struct {
	Name  string
	Steps []Step
}

// WorkflowPayload is the queue payload for workflow-execution jobs.
// The execution id doubles as the job id.
type WorkflowPayload struct {
	ExecutionID    string         `json:"execution_id"`
	Workflow       string         `json:"workflow"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Input          map[string]any `json:"input,omitempty"`
}

// WorkflowRunner executes registered workflows step by step, reporting
// fractional progress on the event bus keyed by execution id.
type WorkflowRunner struct {
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*Workflow
}

func NewWorkflowRunner(bus *events.Bus, logger *slog.Logger) *WorkflowRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowRunner{
		bus:       bus,
		logger:    logger,
		workflows: map[string]*Workflow{},
	}
}

// RegisterWorkflow makes a workflow available by name. Re-registering a
// name replaces the previous definition.
func (r *WorkflowRunner) RegisterWorkflow(wf *Workflow) {
	r.mu.Lock()
	r.workflows[wf.Name] = wf
	r.mu.Unlock()
}

// Handle is the queue handler for workflow-execution jobs.
func (r *WorkflowRunner) Handle(ctx context.Context, job *entity.Job) error {
	var payload WorkflowPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "decode workflow payload", err)
	}

	r.mu.RLock()
	wf, ok := r.workflows[payload.Workflow]
	r.mu.RUnlock()
	if !ok {
		return common.NewAppError("UNKNOWN_WORKFLOW",
			fmt.Sprintf("workflow %q is not registered", payload.Workflow), common.ErrNotFound)
	}

	state := &WorkflowState{
		OrganizationID: payload.OrganizationID,
		UserID:         payload.UserID,
		Input:          payload.Input,
		Output:         map[string]any{},
	}

	total := len(wf.Steps)
	for i, step := range wf.Steps {
		r.logger.Info("workflow.step.start",
			"execution_id", payload.ExecutionID,
			"workflow", wf.Name,
			"step", step.Name,
			"step_index", i+1,
			"total_steps", total,
		)
		r.bus.Emit(job.ID, events.EventProgress, events.EventData{
			Status:      "running",
			CurrentStep: i + 1,
			TotalSteps:  total,
			Progress:    i * 100 / total,
			Message:     step.Name,
		})

		if err := step.Run(ctx, state); err != nil {
			r.logger.Error("workflow.step.failed",
				"execution_id", payload.ExecutionID,
				"workflow", wf.Name,
				"step", step.Name,
				"error", err,
			)
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
	}

	r.bus.Emit(job.ID, events.EventComplete, events.EventData{
		Status:      "completed",
		CurrentStep: total,
		TotalSteps:  total,
		Progress:    100,
	})
	return nil
}

// HandleExhausted publishes the terminal error event once the job has spent
// every attempt.
func (r *WorkflowRunner) HandleExhausted(ctx context.Context, job *entity.Job, err error) {
	r.bus.Emit(job.ID, events.EventError, events.EventData{
		Status: "failed",
		Error:  err.Error(),
	})
}
