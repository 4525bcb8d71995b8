package orchestrator

import "context"

// Failure kinds reported to the workflow engine. Interrupt timeouts are
// distinct so operators can tell a silent customer from broken agents.
const (
	FailureKindExecution        = "PHASE_EXECUTION_FAILED"
	FailureKindInterruptTimeout = "INTERRUPT_TIMEOUT"
)

// SuccessPayload is delivered to the workflow engine on completion.
type SuccessPayload struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Output    string `json:"output"`
}

// Reporter delivers the phase outcome to the external workflow engine
// via the resume token it issued. Exactly one report happens per Execute
// call, regardless of internal retries.
type Reporter interface {
	ReportSuccess(ctx context.Context, taskToken []byte, payload SuccessPayload) error
	ReportFailure(ctx context.Context, taskToken []byte, kind, cause string) error
}
