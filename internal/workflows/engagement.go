package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/crewline/crewd/internal/engagement"
)

// EngagementWorkflow drives one project through every delivery phase.
//
// Per phase: mark the ledger IN_PROGRESS, run the phase to completion,
// mark it AWAITING_APPROVAL, then block on the customer's approval gate.
// A revision request loops the same phase with the customer's feedback;
// approval advances to the next phase. Phase ordering across the
// engagement is enforced here, not in the orchestrator.
func EngagementWorkflow(ctx workflow.Context, input EngagementInput) (*EngagementResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("engagement started", "project_id", input.ProjectID, "project_name", input.ProjectName)

	result := &EngagementResult{
		ProjectID: input.ProjectID,
		StartTime: workflow.Now(ctx),
	}

	var a *Activities

	// Bookkeeping activities are short and safe to retry.
	statusCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	// Phase execution completes asynchronously via task token and does
	// its own internal retries; a Temporal-level retry would launch a
	// second agent session for the same phase.
	phaseCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 7 * 24 * time.Hour,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	// The approval gate waits on a human and may stay open for weeks.
	gateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * 24 * time.Hour,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	for _, phase := range engagement.Phases {
		feedback := ""

		for {
			if err := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
				ProjectID: input.ProjectID,
				Phase:     phase,
				Status:    engagement.StatusInProgress,
			}).Get(ctx, nil); err != nil {
				return result, err
			}

			var phaseResult PhaseResult
			if err := workflow.ExecuteActivity(phaseCtx, a.ExecutePhase, PhaseInput{
				ProjectID:        input.ProjectID,
				Phase:            phase,
				CustomerFeedback: feedback,
			}).Get(ctx, &phaseResult); err != nil {
				logger.Error("phase failed", "phase", phase, "error", err)
				if statusErr := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
					ProjectID: input.ProjectID,
					Phase:     phase,
					Status:    engagement.StatusFailed,
				}).Get(ctx, nil); statusErr != nil {
					logger.Error("failed to record phase failure", "error", statusErr)
				}
				return result, err
			}

			if err := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
				ProjectID: input.ProjectID,
				Phase:     phase,
				Status:    engagement.StatusAwaitingApproval,
			}).Get(ctx, nil); err != nil {
				return result, err
			}

			var decision GateDecision
			if err := workflow.ExecuteActivity(gateCtx, a.OpenApprovalGate, GateInput{
				ProjectID: input.ProjectID,
				Phase:     phase,
			}).Get(ctx, &decision); err != nil {
				return result, err
			}

			if decision.Approved {
				if err := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
					ProjectID: input.ProjectID,
					Phase:     phase,
					Status:    engagement.StatusApproved,
				}).Get(ctx, nil); err != nil {
					return result, err
				}
				result.PhasesCompleted = append(result.PhasesCompleted, phase.String())
				logger.Info("phase approved", "phase", phase)
				break
			}

			result.Revisions++
			feedback = decision.Feedback
			logger.Info("revision requested", "phase", phase, "feedback", feedback)
			if err := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
				ProjectID: input.ProjectID,
				Phase:     phase,
				Status:    engagement.StatusRevisionRequested,
			}).Get(ctx, nil); err != nil {
				return result, err
			}
		}
	}

	if err := workflow.ExecuteActivity(statusCtx, a.SetPhaseStatus, StatusInput{
		ProjectID: input.ProjectID,
		Phase:     engagement.PhaseHandoff,
		Status:    engagement.StatusCompleted,
	}).Get(ctx, nil); err != nil {
		return result, err
	}

	result.EndTime = workflow.Now(ctx)
	logger.Info("engagement completed",
		"project_id", input.ProjectID,
		"phases", len(result.PhasesCompleted),
		"revisions", result.Revisions)
	return result, nil
}
