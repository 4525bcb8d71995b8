package ledger

import (
	"time"

	"github.com/crewline/crewd/internal/engagement"
)

// Section names accepted by AppendToSection.
const (
	SectionFacts       = "facts"
	SectionAssumptions = "assumptions"
	SectionDecisions   = "decisions"
	SectionBlockers    = "blockers"
)

// Fact is a confirmed piece of project knowledge with its source.
type Fact struct {
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// Assumption is an unconfirmed working premise with a confidence note.
type Assumption struct {
	Description string    `json:"description"`
	Confidence  string    `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision is a choice made during the engagement with its rationale.
type Decision struct {
	Description string    `json:"description"`
	Rationale   string    `json:"rationale"`
	Timestamp   time.Time `json:"timestamp"`
}

// Blocker is an impediment assigned to someone for resolution.
type Blocker struct {
	Description string    `json:"description"`
	Assignee    string    `json:"assignee"`
	Timestamp   time.Time `json:"timestamp"`
}

// Deliverable is one artifact produced by a phase.
type Deliverable struct {
	Name          string `json:"name"`
	StoragePath   string `json:"storage_path"`
	VersionStatus string `json:"version_status"`
}

// TaskLedger is the single durable record of what a project knows and has
// produced. One exists per project; it is never deleted.
type TaskLedger struct {
	ProjectID    string                 `json:"project_id"`
	ProjectName  string                 `json:"project_name"`
	Customer     string                 `json:"customer"`
	OwnerID      string                 `json:"owner_id"`
	CurrentPhase engagement.Phase       `json:"current_phase"`
	PhaseStatus  engagement.PhaseStatus `json:"phase_status"`

	Facts       []Fact       `json:"facts"`
	Assumptions []Assumption `json:"assumptions"`
	Decisions   []Decision   `json:"decisions"`
	Blockers    []Blocker    `json:"blockers"`

	// Deliverables maps phase name to the artifacts that phase produced.
	Deliverables map[string][]Deliverable `json:"deliverables"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is the input shape for AppendToSection. Provenance carries the
// section-specific attribution: source for facts, confidence for
// assumptions, rationale for decisions, assignee for blockers.
type Entry struct {
	Description string
	Provenance  string
}

// NewTaskLedger returns the default-initialized ledger for a project.
// Absence of a stored ledger is a valid initial state, so Read returns
// this rather than a not-found error.
func NewTaskLedger(projectID string) *TaskLedger {
	return &TaskLedger{
		ProjectID:    projectID,
		CurrentPhase: engagement.PhaseDiscovery,
		PhaseStatus:  engagement.StatusInProgress,
		Facts:        []Fact{},
		Assumptions:  []Assumption{},
		Decisions:    []Decision{},
		Blockers:     []Blocker{},
		Deliverables: map[string][]Deliverable{},
	}
}
