package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("POC")
	require.NoError(t, err)
	assert.Equal(t, PhasePOC, p)

	_, err = ParsePhase("poc")
	assert.Error(t, err)

	_, err = ParsePhase("")
	assert.Error(t, err)
}

func TestPhaseNext(t *testing.T) {
	next, ok := PhaseDiscovery.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseArchitecture, next)

	next, ok = PhaseProduction.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseHandoff, next)

	_, ok = PhaseHandoff.Next()
	assert.False(t, ok)
}

func TestParsePhaseStatus(t *testing.T) {
	s, err := ParsePhaseStatus("AWAITING_APPROVAL")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingApproval, s)

	_, err = ParsePhaseStatus("DONE")
	assert.Error(t, err)
}
