package interrupt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

const instrumentationName = "github.com/crewline/crewd/internal/interrupt"

// Status values for an interrupt.
const (
	StatusPending  = "PENDING"
	StatusAnswered = "ANSWERED"
)

func interruptKey(projectID, interruptID string) string {
	return fmt.Sprintf("%s.INTERRUPT.%s", projectID, interruptID)
}

// Interrupt is one stored customer question.
type Interrupt struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id"`
	Phase      engagement.Phase `json:"phase"`
	Question   string           `json:"question"`
	Response   string           `json:"response"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	AnsweredAt time.Time        `json:"answered_at,omitempty"`
}

// Service provides interrupt operations.
type Service interface {
	// Create persists a PENDING interrupt and broadcasts a raised event.
	Create(ctx context.Context, projectID, interruptID, question string, phase engagement.Phase) error

	// Answer records the customer's response, flips status to ANSWERED,
	// and broadcasts an answered event. Answering an already answered
	// interrupt overwrites the response as a correction.
	Answer(ctx context.Context, projectID, interruptID, response string) error

	// FetchResponse returns the response once status is ANSWERED, and the
	// empty string otherwise. This is the orchestrator's polling primitive.
	FetchResponse(ctx context.Context, projectID, interruptID string) (string, error)

	// Get returns one interrupt, or nil if it does not exist.
	Get(ctx context.Context, projectID, interruptID string) (*Interrupt, error)

	// List returns all interrupts for a project ordered by creation time.
	List(ctx context.Context, projectID string) ([]*Interrupt, error)

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store       kv.Store
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	raisedCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new interrupt service.
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

	s.raisedCounter, err = s.meter.Int64Counter(
		"crewd.interrupt.raised_total",
		metric.WithDescription("Total number of interrupts raised"),
		metric.WithUnit("{interrupt}"),
	)
	if err != nil {
		s.logger.Warn("failed to create raised counter", zap.Error(err))
	}
}

func (s *service) Create(ctx context.Context, projectID, interruptID, question string, phase engagement.Phase) error {
	ctx, span := s.tracer.Start(ctx, "interrupt.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("interrupt_id", interruptID),
	)

	if err := s.checkOpen(); err != nil {
		return err
	}
	if projectID == "" || interruptID == "" {
		return errors.New("project id and interrupt id are required")
	}
	if question == "" {
		return errors.New("question is required")
	}

	record := Interrupt{
		ID:        interruptID,
		ProjectID: projectID,
		Phase:     phase,
		Question:  question,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.write(ctx, &record); err != nil {
		span.RecordError(err)
		return err
	}

	if s.raisedCounter != nil {
		s.raisedCounter.Add(ctx, 1)
	}

	s.publish(ctx, broadcast.Event{
		Type:      broadcast.EventInterruptRaised,
		ProjectID: projectID,
		Phase:     phase.String(),
		Message:   question,
		Fields:    map[string]string{"interrupt_id": interruptID},
	})

	return nil
}

func (s *service) Answer(ctx context.Context, projectID, interruptID, response string) error {
	ctx, span := s.tracer.Start(ctx, "interrupt.answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("interrupt_id", interruptID),
	)

	if err := s.checkOpen(); err != nil {
		return err
	}
	if response == "" {
		return errors.New("response is required")
	}

	record, err := s.Get(ctx, projectID, interruptID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("interrupt not found: %s", interruptID)
	}

	// A second answer overwrites the response as a correction. The status
	// transition is one-way, so pollers that already consumed the answer
	// are not re-triggered.
	record.Response = response
	record.Status = StatusAnswered
	record.AnsweredAt = time.Now().UTC()

	if err := s.write(ctx, record); err != nil {
		span.RecordError(err)
		return err
	}

	s.publish(ctx, broadcast.Event{
		Type:      broadcast.EventInterruptAnswered,
		ProjectID: projectID,
		Phase:     record.Phase.String(),
		Fields:    map[string]string{"interrupt_id": interruptID},
	})

	return nil
}

func (s *service) FetchResponse(ctx context.Context, projectID, interruptID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "interrupt.fetch_response")
	defer span.End()

	record, err := s.Get(ctx, projectID, interruptID)
	if err != nil {
		return "", err
	}
	if record == nil || record.Status != StatusAnswered {
		return "", nil
	}
	return record.Response, nil
}

func (s *service) Get(ctx context.Context, projectID, interruptID string) (*Interrupt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, interruptKey(projectID, interruptID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interrupt: %w", err)
	}

	var record Interrupt
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode interrupt: %w", err)
	}
	return &record, nil
}

func (s *service) List(ctx context.Context, projectID string) ([]*Interrupt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := s.store.Keys(ctx, projectID+".INTERRUPT.")
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupts: %w", err)
	}

	records := make([]*Interrupt, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get interrupt %s: %w", key, err)
		}
		var record Interrupt
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to decode interrupt %s: %w", key, err)
		}
		records = append(records, &record)
	}

	sortByCreatedAt(records)
	return records, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *service) write(ctx context.Context, record *Interrupt) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode interrupt: %w", err)
	}
	if err := s.store.Put(ctx, interruptKey(record.ProjectID, record.ID), data); err != nil {
		return fmt.Errorf("failed to write interrupt: %w", err)
	}
	return nil
}

// publish emits a best-effort event. Broadcast failures never propagate.
func (s *service) publish(ctx context.Context, event broadcast.Event) {
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to broadcast interrupt event",
			zap.String("type", event.Type), zap.Error(err))
	}
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}

func sortByCreatedAt(records []*Interrupt) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
