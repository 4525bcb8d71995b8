package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/crewline/crewd/internal/orchestrator"
)

// Reporter completes pending ExecutePhase activities through their task
// token. It is the orchestrator's channel back to the workflow engine.
type Reporter struct {
	client client.Client
}

// NewReporter creates a Reporter over a Temporal client.
func NewReporter(c client.Client) (*Reporter, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	return &Reporter{client: c}, nil
}

// ReportSuccess completes the phase activity with its result.
func (r *Reporter) ReportSuccess(ctx context.Context, taskToken []byte, payload orchestrator.SuccessPayload) error {
	return r.client.CompleteActivity(ctx, taskToken, PhaseResult{
		ProjectID: payload.ProjectID,
		Phase:     payload.Phase,
		Output:    payload.Output,
	}, nil)
}

// ReportFailure fails the phase activity with a typed application error
// so the workflow can distinguish interrupt timeouts from broken agents.
func (r *Reporter) ReportFailure(ctx context.Context, taskToken []byte, kind, cause string) error {
	return r.client.CompleteActivity(ctx, taskToken, nil,
		temporal.NewApplicationError(cause, kind))
}

var _ orchestrator.Reporter = (*Reporter)(nil)
