package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types published over the engagement stream.
const (
	EventPhaseStarted      = "phase.started"
	EventPhaseCompleted    = "phase.completed"
	EventPhaseFailed       = "phase.failed"
	EventApprovalRequested = "approval.requested"
	EventApprovalGranted   = "approval.granted"
	EventRevisionRequested = "revision.requested"
	EventInterruptRaised   = "interrupt.raised"
	EventInterruptAnswered = "interrupt.answered"
	EventSessionHandoff    = "session.handoff"
	EventChatMessage       = "chat.message"
	EventTaskUpdated       = "task.updated"
)

// Event is one observable moment in an engagement.
type Event struct {
	Type      string            `json:"type"`
	ProjectID string            `json:"project_id"`
	Phase     string            `json:"phase,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Broadcaster delivers events to whoever is listening.
type Broadcaster interface {
	// Publish emits an event on the project's stream. Implementations must
	// not block on slow consumers.
	Publish(ctx context.Context, event Event) error
}

// natsBroadcaster publishes events as JSON to NATS core subjects
// projects.{project_id}.events.
type natsBroadcaster struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSBroadcaster creates a Broadcaster over a NATS connection.
func NewNATSBroadcaster(nc *nats.Conn, logger *zap.Logger) (Broadcaster, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &natsBroadcaster{nc: nc, logger: logger}, nil
}

// Subject returns the event subject for a project.
func Subject(projectID string) string {
	return fmt.Sprintf("projects.%s.events", projectID)
}

func (b *natsBroadcaster) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(Subject(event.ProjectID), data); err != nil {
		b.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("project_id", event.ProjectID),
			zap.Error(err))
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// nopBroadcaster drops every event.
type nopBroadcaster struct{}

// NewNop returns a Broadcaster that discards all events.
func NewNop() Broadcaster {
	return nopBroadcaster{}
}

func (nopBroadcaster) Publish(context.Context, Event) error { return nil }
