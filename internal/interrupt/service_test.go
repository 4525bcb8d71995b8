package interrupt

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

// captureBroadcaster records published events for assertions.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *captureBroadcaster) Publish(_ context.Context, event broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureBroadcaster) all() []broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcast.Event(nil), c.events...)
}

func newTestService(t *testing.T) (Service, *captureBroadcaster) {
	capture := &captureBroadcaster{}
	svc, err := NewService(kv.NewMemoryStore(), capture, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, capture
}

func TestCreate_StartsPending(t *testing.T) {
	svc, capture := newTestService(t)
	ctx := context.Background()

	err := svc.Create(ctx, "proj-1", "int-1", "What is the budget ceiling?", engagement.PhasePOC)
	require.NoError(t, err)

	record, err := svc.Get(ctx, "proj-1", "int-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, "What is the budget ceiling?", record.Question)
	assert.Empty(t, record.Response)
	assert.False(t, record.CreatedAt.IsZero())

	events := capture.all()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.EventInterruptRaised, events[0].Type)
	assert.Equal(t, "int-1", events[0].Fields["interrupt_id"])
}

func TestFetchResponse_StatusGated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "proj-1", "int-1", "Which region?", engagement.PhasePOC))

	// Polling a PENDING interrupt returns empty, however often.
	for i := 0; i < 3; i++ {
		response, err := svc.FetchResponse(ctx, "proj-1", "int-1")
		require.NoError(t, err)
		assert.Empty(t, response)
	}

	require.NoError(t, svc.Answer(ctx, "proj-1", "int-1", "eu-west-1"))

	for i := 0; i < 3; i++ {
		response, err := svc.FetchResponse(ctx, "proj-1", "int-1")
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", response)
	}
}

func TestFetchResponse_UnknownInterrupt(t *testing.T) {
	svc, _ := newTestService(t)

	response, err := svc.FetchResponse(context.Background(), "proj-1", "nope")
	require.NoError(t, err)
	assert.Empty(t, response)
}

func TestAnswer_SetsStatusAndTimestamp(t *testing.T) {
	svc, capture := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "proj-1", "int-1", "Which region?", engagement.PhaseArchitecture))
	require.NoError(t, svc.Answer(ctx, "proj-1", "int-1", "eu-west-1"))

	record, err := svc.Get(ctx, "proj-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, record.Status)
	assert.False(t, record.AnsweredAt.IsZero())

	events := capture.all()
	require.Len(t, events, 2)
	assert.Equal(t, broadcast.EventInterruptAnswered, events[1].Type)
}

func TestAnswer_TwiceOverwritesAsCorrection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "proj-1", "int-1", "Budget?", engagement.PhasePOC))
	require.NoError(t, svc.Answer(ctx, "proj-1", "int-1", "$5000/month"))
	require.NoError(t, svc.Answer(ctx, "proj-1", "int-1", "$8000/month"))

	response, err := svc.FetchResponse(ctx, "proj-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, "$8000/month", response)

	record, err := svc.Get(ctx, "proj-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, record.Status)
}

func TestAnswer_UnknownInterrupt(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Answer(context.Background(), "proj-1", "missing", "answer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestList_OrderedByCreation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "proj-1", "int-a", "first?", engagement.PhasePOC))
	require.NoError(t, svc.Create(ctx, "proj-1", "int-b", "second?", engagement.PhasePOC))
	require.NoError(t, svc.Create(ctx, "proj-2", "int-c", "other project", engagement.PhasePOC))

	records, err := svc.List(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "int-a", records[0].ID)
	assert.Equal(t, "int-b", records[1].ID)
}

func TestCreate_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Error(t, svc.Create(ctx, "", "int-1", "q", engagement.PhasePOC))
	assert.Error(t, svc.Create(ctx, "proj-1", "", "q", engagement.PhasePOC))
	assert.Error(t, svc.Create(ctx, "proj-1", "int-1", "", engagement.PhasePOC))
	assert.Error(t, svc.Answer(ctx, "proj-1", "int-1", ""))
}
