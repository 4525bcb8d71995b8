package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

func newTestService(t *testing.T) Service {
	svc, err := NewService(kv.NewMemoryStore(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestRead_DefaultWhenAbsent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, projectID := range []string{"proj-1", "proj-2", "weird.id-42"} {
		l, err := svc.Read(ctx, projectID)
		require.NoError(t, err)
		assert.Equal(t, projectID, l.ProjectID)
		assert.Equal(t, engagement.PhaseDiscovery, l.CurrentPhase)
		assert.Equal(t, engagement.StatusInProgress, l.PhaseStatus)
		assert.Empty(t, l.Facts)
		assert.Empty(t, l.Assumptions)
		assert.Empty(t, l.Decisions)
		assert.Empty(t, l.Blockers)
		assert.Empty(t, l.Deliverables)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := NewTaskLedger("proj-1")
	l.ProjectName = "Data Lake"
	l.Customer = "Acme"
	l.OwnerID = "owner-1"
	l.CurrentPhase = engagement.PhasePOC
	l.PhaseStatus = engagement.StatusAwaitingApproval

	require.NoError(t, svc.Write(ctx, "proj-1", l))

	got, err := svc.Read(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "Data Lake", got.ProjectName)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, engagement.PhasePOC, got.CurrentPhase)
	assert.Equal(t, engagement.StatusAwaitingApproval, got.PhaseStatus)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestAppendToSection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l, err := svc.AppendToSection(ctx, "proj-1", SectionFacts, Entry{
		Description: "Customer runs on AWS",
		Provenance:  "SOW",
	})
	require.NoError(t, err)
	require.Len(t, l.Facts, 1)
	assert.Equal(t, "Customer runs on AWS", l.Facts[0].Description)
	assert.Equal(t, "SOW", l.Facts[0].Source)
	assert.False(t, l.Facts[0].Timestamp.IsZero())

	l, err = svc.AppendToSection(ctx, "proj-1", SectionBlockers, Entry{
		Description: "VPN access pending",
		Provenance:  "infra",
	})
	require.NoError(t, err)
	assert.Len(t, l.Facts, 1)
	require.Len(t, l.Blockers, 1)
	assert.Equal(t, "infra", l.Blockers[0].Assignee)

	// Entries keep insertion order.
	l, err = svc.AppendToSection(ctx, "proj-1", SectionFacts, Entry{
		Description: "Budget is $8000/month",
		Provenance:  "customer",
	})
	require.NoError(t, err)
	require.Len(t, l.Facts, 2)
	assert.Equal(t, "Customer runs on AWS", l.Facts[0].Description)
	assert.Equal(t, "Budget is $8000/month", l.Facts[1].Description)
}

func TestAppendToSection_Rejections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AppendToSection(ctx, "proj-1", "milestones", Entry{Description: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ledger section")

	_, err = svc.AppendToSection(ctx, "proj-1", SectionFacts, Entry{})
	require.Error(t, err)
}

func TestUpdateDeliverables_ReplacesNotMerges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := []Deliverable{
		{Name: "design.md", StoragePath: "docs/design.md", VersionStatus: "draft"},
		{Name: "diagram.png", StoragePath: "docs/diagram.png", VersionStatus: "draft"},
	}
	require.NoError(t, svc.UpdateDeliverables(ctx, "proj-1", engagement.PhaseArchitecture, first))

	second := []Deliverable{
		{Name: "design.md", StoragePath: "docs/design.md", VersionStatus: "final"},
	}
	require.NoError(t, svc.UpdateDeliverables(ctx, "proj-1", engagement.PhaseArchitecture, second))

	l, err := svc.Read(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, l.Deliverables["ARCHITECTURE"], 1)
	assert.Equal(t, "final", l.Deliverables["ARCHITECTURE"][0].VersionStatus)
}

func TestFormat_Empty(t *testing.T) {
	l := NewTaskLedger("proj-1")
	l.ProjectName = "Data Lake"

	text := Format(l)
	assert.Contains(t, text, "Data Lake")
	assert.Contains(t, text, "no entries yet")
}

func TestFormat_InsertionOrder(t *testing.T) {
	l := NewTaskLedger("proj-1")
	l.ProjectName = "Data Lake"
	l.Facts = []Fact{
		{Description: "first fact", Source: "a"},
		{Description: "second fact", Source: "b"},
	}
	l.Decisions = []Decision{{Description: "use S3", Rationale: "cost"}}
	l.Deliverables["DISCOVERY"] = []Deliverable{
		{Name: "sow.md", StoragePath: "docs/sow.md", VersionStatus: "final"},
	}

	text := Format(l)
	assert.NotContains(t, text, "no entries yet")
	assert.Contains(t, text, "1. first fact (source: a)")
	assert.Contains(t, text, "2. second fact (source: b)")
	assert.Contains(t, text, "use S3 (rationale: cost)")
	assert.Contains(t, text, "### DISCOVERY")
	assert.Less(t, strings.Index(text, "first fact"), strings.Index(text, "second fact"))

	// Deterministic rendering.
	assert.Equal(t, text, Format(l))
}

func TestClose(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Close())

	_, err := svc.Read(context.Background(), "proj-1")
	assert.Error(t, err)
}
