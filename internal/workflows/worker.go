package workflows

import (
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Register adds the engagement workflow and its activities to a worker.
func Register(w worker.Worker, a *Activities) {
	w.RegisterWorkflowWithOptions(EngagementWorkflow, workflow.RegisterOptions{
		Name: EngagementWorkflowName,
	})
	w.RegisterActivity(a)
}
