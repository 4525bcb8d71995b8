package workflows

import (
	"time"

	"github.com/crewline/crewd/internal/engagement"
)

// EngagementWorkflowName is the registered workflow type.
const EngagementWorkflowName = "EngagementWorkflow"

// EngagementInput starts a full engagement run.
type EngagementInput struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	OwnerID     string `json:"owner_id"`
}

// EngagementResult summarizes a finished engagement.
type EngagementResult struct {
	ProjectID       string    `json:"project_id"`
	PhasesCompleted []string  `json:"phases_completed"`
	Revisions       int       `json:"revisions"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

// PhaseInput drives one ExecutePhase activity.
type PhaseInput struct {
	ProjectID        string           `json:"project_id"`
	Phase            engagement.Phase `json:"phase"`
	CustomerFeedback string           `json:"customer_feedback,omitempty"`
}

// PhaseResult is delivered when the orchestrator completes a phase.
type PhaseResult struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Output    string `json:"output"`
}

// GateInput opens one approval gate.
type GateInput struct {
	ProjectID string           `json:"project_id"`
	Phase     engagement.Phase `json:"phase"`
}

// GateDecision is delivered when the customer approves or requests
// revision of a submitted phase.
type GateDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// StatusInput updates the ledger's phase bookkeeping.
type StatusInput struct {
	ProjectID string                 `json:"project_id"`
	Phase     engagement.Phase       `json:"phase"`
	Status    engagement.PhaseStatus `json:"status"`
}
