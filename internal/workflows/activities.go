package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/approval"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/orchestrator"
)

// Activities bridges the engagement workflow to the daemon's services.
type Activities struct {
	Orchestrator orchestrator.Service
	Ledger       ledger.Service
	Approvals    approval.Service
	Logger       *zap.Logger
}

// NewActivities wires the activity set.
func NewActivities(orch orchestrator.Service, l ledger.Service, a approval.Service, logger *zap.Logger) (*Activities, error) {
	if orch == nil || l == nil || a == nil {
		return nil, errors.New("orchestrator, ledger, and approval services are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{Orchestrator: orch, Ledger: l, Approvals: a, Logger: logger}, nil
}

// ExecutePhase starts the phase orchestrator and returns a pending
// result. The orchestrator reports the outcome through the activity's
// task token when the agent session reaches a terminal state, which may
// be hours later; no worker slot is held in the meantime.
func (a *Activities) ExecutePhase(ctx context.Context, input PhaseInput) (*PhaseResult, error) {
	info := activity.GetInfo(ctx)
	taskToken := info.TaskToken

	a.Logger.Info("phase execution started",
		zap.String("project_id", input.ProjectID),
		zap.String("phase", input.Phase.String()),
		zap.String("activity_id", info.ActivityID))

	// The execution outlives the activity invocation, so it runs on a
	// background context and answers via the task token.
	go func() {
		if err := a.Orchestrator.Execute(context.Background(), input.ProjectID, input.Phase, taskToken, input.CustomerFeedback); err != nil {
			a.Logger.Error("phase execution ended with error",
				zap.String("project_id", input.ProjectID),
				zap.String("phase", input.Phase.String()),
				zap.Error(err))
		}
	}()

	return nil, activity.ErrResultPending
}

// OpenApprovalGate stores the activity's task token as the phase's
// approval token and returns a pending result. A customer approve or
// revise action consumes the token and completes the activity with a
// GateDecision.
func (a *Activities) OpenApprovalGate(ctx context.Context, input GateInput) (*GateDecision, error) {
	taskToken := activity.GetInfo(ctx).TaskToken

	if err := a.Approvals.Store(ctx, input.ProjectID, input.Phase, taskToken); err != nil {
		return nil, fmt.Errorf("failed to open approval gate: %w", err)
	}

	a.Logger.Info("approval gate opened",
		zap.String("project_id", input.ProjectID),
		zap.String("phase", input.Phase.String()))

	return nil, activity.ErrResultPending
}

// SetPhaseStatus updates the ledger's current phase and status.
func (a *Activities) SetPhaseStatus(ctx context.Context, input StatusInput) error {
	l, err := a.Ledger.Read(ctx, input.ProjectID)
	if err != nil {
		return err
	}
	l.CurrentPhase = input.Phase
	l.PhaseStatus = input.Status
	return a.Ledger.Write(ctx, input.ProjectID, l)
}
