package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
)

// Engine is the API layer's handle on the workflow engine: it starts
// engagements and resolves pending approval gates.
type Engine struct {
	client    client.Client
	taskQueue string
}

// NewEngine creates an Engine over a Temporal client.
func NewEngine(c client.Client, taskQueue string) (*Engine, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	if taskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	return &Engine{client: c, taskQueue: taskQueue}, nil
}

// StartEngagement launches the engagement workflow for a project. The
// workflow ID is derived from the project ID, so starting the same
// project twice fails rather than running two engagements.
func (e *Engine) StartEngagement(ctx context.Context, input EngagementInput) error {
	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "engagement-" + input.ProjectID,
		TaskQueue: e.taskQueue,
	}, EngagementWorkflowName, input)
	if err != nil {
		return fmt.Errorf("failed to start engagement workflow: %w", err)
	}
	return nil
}

// CompleteGate resolves a pending approval gate with the customer's
// decision. The task token comes from the consumed approval record.
func (e *Engine) CompleteGate(ctx context.Context, taskToken []byte, decision GateDecision) error {
	return e.client.CompleteActivity(ctx, taskToken, decision, nil)
}
