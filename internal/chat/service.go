package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/kv"
)

const instrumentationName = "github.com/crewline/crewd/internal/chat"

// messageKey builds a time-ordered composite key. The timestamp is
// zero-padded to 19 digits so lexicographic key order matches time order.
func messageKey(projectID string, ts time.Time, id string) string {
	return fmt.Sprintf("%s.CHAT.%019d.%s", projectID, ts.UnixNano(), id)
}

// Message is one chat message.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Service provides chat operations.
type Service interface {
	// Append stores a message and broadcasts it.
	Append(ctx context.Context, projectID, author, content string) (*Message, error)

	// List returns all messages for a project in time order.
	List(ctx context.Context, projectID string) ([]*Message, error)

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store       kv.Store
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	messageCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new chat service.
func NewService(store kv.Store, b broadcast.Broadcaster, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if b == nil {
		b = broadcast.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:       store,
		broadcaster: b,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.messageCounter, err = s.meter.Int64Counter(
		"crewd.chat.messages_total",
		metric.WithDescription("Total number of chat messages stored"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		s.logger.Warn("failed to create message counter", zap.Error(err))
	}
}

func (s *service) Append(ctx context.Context, projectID, author, content string) (*Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.append")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if content == "" {
		return nil, errors.New("content is required")
	}

	message := &Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Author:    author,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	key := messageKey(projectID, message.Timestamp, message.ID)
	if err := s.store.Put(ctx, key, data); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	if s.messageCounter != nil {
		s.messageCounter.Add(ctx, 1)
	}

	if err := s.broadcaster.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventChatMessage,
		ProjectID: projectID,
		Agent:     author,
		Message:   content,
	}); err != nil {
		s.logger.Warn("failed to broadcast chat message", zap.Error(err))
	}

	return message, nil
}

func (s *service) List(ctx context.Context, projectID string) ([]*Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := s.store.Keys(ctx, projectID+".CHAT.")
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*Message, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", key, err)
		}
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", key, err)
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}
