package orchestrator

import (
	"fmt"
	"time"

	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/swarm"
)

// Roster is the agent set for one phase.
type Roster struct {
	// Agents lists roster member names; Entry must be one of them.
	Agents []string
	Entry  string

	// Session carries the phase's tuned limits. The ping-pong window and
	// distinct-agent threshold are empirical values, kept as configuration.
	Session swarm.Config
}

// twoAgentSession returns limits tuned for the lighter two-agent phases.
func twoAgentSession(timeout time.Duration) swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.MaxHandoffs = 10
	cfg.MaxIterations = 30
	cfg.ExecutionTimeout = timeout
	cfg.RepetitiveHandoffWindow = 6
	cfg.RepetitiveHandoffMinUniqueAgents = 2
	return cfg
}

// multiAgentSession returns limits tuned for the build-heavy phases.
func multiAgentSession(timeout time.Duration) swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.MaxHandoffs = 15
	cfg.MaxIterations = 50
	cfg.ExecutionTimeout = timeout
	cfg.RepetitiveHandoffWindow = 8
	cfg.RepetitiveHandoffMinUniqueAgents = 3
	return cfg
}

// DefaultRosters maps each phase to its agent set and tuned limits.
func DefaultRosters() map[engagement.Phase]Roster {
	return map[engagement.Phase]Roster{
		engagement.PhaseDiscovery: {
			Agents:  []string{engagement.RoleProjectManager, engagement.RoleSolutionsArchitect},
			Entry:   engagement.RoleProjectManager,
			Session: twoAgentSession(30 * time.Minute),
		},
		engagement.PhaseArchitecture: {
			Agents:  []string{engagement.RoleSolutionsArchitect, engagement.RoleInfra, engagement.RoleSecurity},
			Entry:   engagement.RoleSolutionsArchitect,
			Session: multiAgentSession(45 * time.Minute),
		},
		engagement.PhasePOC: {
			Agents: []string{
				engagement.RoleDeveloper, engagement.RoleInfra, engagement.RoleData,
				engagement.RoleSecurity, engagement.RoleSolutionsArchitect,
			},
			Entry:   engagement.RoleDeveloper,
			Session: multiAgentSession(60 * time.Minute),
		},
		engagement.PhaseProduction: {
			Agents: []string{
				engagement.RoleDeveloper, engagement.RoleInfra, engagement.RoleData,
				engagement.RoleSecurity, engagement.RoleQA,
			},
			Entry:   engagement.RoleDeveloper,
			Session: multiAgentSession(90 * time.Minute),
		},
		engagement.PhaseHandoff: {
			Agents:  []string{engagement.RoleProjectManager, engagement.RoleSolutionsArchitect},
			Entry:   engagement.RoleProjectManager,
			Session: twoAgentSession(30 * time.Minute),
		},
	}
}

// rosterFor resolves the roster for a phase.
func rosterFor(rosters map[engagement.Phase]Roster, phase engagement.Phase) (Roster, error) {
	roster, ok := rosters[phase]
	if !ok {
		return Roster{}, fmt.Errorf("no roster for phase: %s", phase)
	}
	return roster, nil
}
