package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

const instrumentationName = "github.com/crewline/crewd/internal/approval"

func tokenKey(projectID string, phase engagement.Phase) string {
	return fmt.Sprintf("%s.TOKEN.%s", projectID, phase)
}

// Token is one stored approval gate handle.
type Token struct {
	// TaskToken is the opaque resume handle from the workflow engine.
	TaskToken []byte    `json:"task_token"`
	CreatedAt time.Time `json:"created_at"`
}

// Service provides approval token operations.
type Service interface {
	// Store saves the token for (project, phase), replacing any prior one.
	Store(ctx context.Context, projectID string, phase engagement.Phase, taskToken []byte) error

	// Fetch returns the stored token, or nil if none exists. Absence is
	// not an error; callers must treat nil as "no pending approval".
	Fetch(ctx context.Context, projectID string, phase engagement.Phase) (*Token, error)

	// Delete removes the token. Deleting a missing token is not an error.
	Delete(ctx context.Context, projectID string, phase engagement.Phase) error

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store  kv.Store
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	storeCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new approval token service.
func NewService(store kv.Store, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.storeCounter, err = s.meter.Int64Counter(
		"crewd.approval.tokens_stored_total",
		metric.WithDescription("Total number of approval tokens stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		s.logger.Warn("failed to create store counter", zap.Error(err))
	}
}

func (s *service) Store(ctx context.Context, projectID string, phase engagement.Phase, taskToken []byte) error {
	ctx, span := s.tracer.Start(ctx, "approval.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("phase", phase.String()),
	)

	if err := s.checkOpen(); err != nil {
		return err
	}
	if projectID == "" {
		return errors.New("project id is required")
	}
	if len(taskToken) == 0 {
		return errors.New("task token is required")
	}

	data, err := json.Marshal(Token{TaskToken: taskToken, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := s.store.Put(ctx, tokenKey(projectID, phase), data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store token: %w", err)
	}

	if s.storeCounter != nil {
		s.storeCounter.Add(ctx, 1)
	}

	return nil
}

func (s *service) Fetch(ctx context.Context, projectID string, phase engagement.Phase) (*Token, error) {
	ctx, span := s.tracer.Start(ctx, "approval.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("phase", phase.String()),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, tokenKey(projectID, phase))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

func (s *service) Delete(ctx context.Context, projectID string, phase engagement.Phase) error {
	ctx, span := s.tracer.Start(ctx, "approval.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("phase", phase.String()),
	)

	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, tokenKey(projectID, phase)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
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
