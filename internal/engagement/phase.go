package engagement

import "fmt"

// Phase is one sequential delivery stage of an engagement.
type Phase string

const (
	PhaseDiscovery    Phase = "DISCOVERY"
	PhaseArchitecture Phase = "ARCHITECTURE"
	PhasePOC          Phase = "POC"
	PhaseProduction   Phase = "PRODUCTION"
	PhaseHandoff      Phase = "HANDOFF"
)

// Phases lists all phases in delivery order.
var Phases = []Phase{
	PhaseDiscovery,
	PhaseArchitecture,
	PhasePOC,
	PhaseProduction,
	PhaseHandoff,
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase: %q", s)
}

// Next returns the phase after p, or false if p is the last phase.
func (p Phase) Next() (Phase, bool) {
	for i, candidate := range Phases {
		if candidate == p && i+1 < len(Phases) {
			return Phases[i+1], true
		}
	}
	return "", false
}

// String implements fmt.Stringer.
func (p Phase) String() string { return string(p) }

// PhaseStatus tracks where a phase stands within its lifecycle.
type PhaseStatus string

const (
	StatusInProgress        PhaseStatus = "IN_PROGRESS"
	StatusAwaitingApproval  PhaseStatus = "AWAITING_APPROVAL"
	StatusApproved          PhaseStatus = "APPROVED"
	StatusRevisionRequested PhaseStatus = "REVISION_REQUESTED"
	StatusFailed            PhaseStatus = "FAILED"
	StatusCompleted         PhaseStatus = "COMPLETED"
)

// ParsePhaseStatus validates a phase status name.
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	switch PhaseStatus(s) {
	case StatusInProgress, StatusAwaitingApproval, StatusApproved,
		StatusRevisionRequested, StatusFailed, StatusCompleted:
		return PhaseStatus(s), nil
	}
	return "", fmt.Errorf("unknown phase status: %q", s)
}

// Agent role names used in phase rosters and task assignment.
const (
	RoleProjectManager     = "project_manager"
	RoleSolutionsArchitect = "solutions_architect"
	RoleDeveloper          = "developer"
	RoleInfra              = "infra"
	RoleSecurity           = "security"
	RoleQA                 = "qa"
	RoleData               = "data"
)
