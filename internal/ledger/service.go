package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

const instrumentationName = "github.com/crewline/crewd/internal/ledger"

// ledgerKey is the fixed sort key for the ledger within a project partition.
func ledgerKey(projectID string) string {
	return projectID + ".LEDGER"
}

// Service provides task ledger operations.
type Service interface {
	// Read returns the ledger for a project. A project with no stored
	// ledger gets a default-initialized one; absence is never an error.
	Read(ctx context.Context, projectID string) (*TaskLedger, error)

	// Write overwrites the whole ledger. Last writer wins; callers must
	// read before writing.
	Write(ctx context.Context, projectID string, l *TaskLedger) error

	// AppendToSection reads the ledger, appends entry to the named
	// section, writes it back, and returns the updated ledger.
	AppendToSection(ctx context.Context, projectID, section string, entry Entry) (*TaskLedger, error)

	// UpdateDeliverables replaces the deliverable list for one phase.
	UpdateDeliverables(ctx context.Context, projectID string, phase engagement.Phase, items []Deliverable) error

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store  kv.Store
	logger *zap.Logger

	// Telemetry
	tracer       trace.Tracer
	meter        metric.Meter
	readCounter  metric.Int64Counter
	writeCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new ledger service.
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

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.readCounter, err = s.meter.Int64Counter(
		"crewd.ledger.reads_total",
		metric.WithDescription("Total number of ledger reads"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		s.logger.Warn("failed to create read counter", zap.Error(err))
	}

	s.writeCounter, err = s.meter.Int64Counter(
		"crewd.ledger.writes_total",
		metric.WithDescription("Total number of ledger writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		s.logger.Warn("failed to create write counter", zap.Error(err))
	}
}

// Read returns the ledger for a project, default-initialized if absent.
func (s *service) Read(ctx context.Context, projectID string) (*TaskLedger, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.read")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	data, err := s.store.Get(ctx, ledgerKey(projectID))
	if errors.Is(err, kv.ErrNotFound) {
		return NewTaskLedger(projectID), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var l TaskLedger
	if err := json.Unmarshal(data, &l); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	normalize(&l)

	if s.readCounter != nil {
		s.readCounter.Add(ctx, 1)
	}

	return &l, nil
}

// Write overwrites the whole ledger.
func (s *service) Write(ctx context.Context, projectID string, l *TaskLedger) error {
	ctx, span := s.tracer.Start(ctx, "ledger.write")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	if err := s.checkOpen(); err != nil {
		return err
	}
	if projectID == "" {
		return errors.New("project id is required")
	}
	if l == nil {
		return errors.New("ledger is required")
	}

	l.ProjectID = projectID
	l.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(l)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := s.store.Put(ctx, ledgerKey(projectID), data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if s.writeCounter != nil {
		s.writeCounter.Add(ctx, 1)
	}

	return nil
}

// AppendToSection appends one entry to a named ledger section.
func (s *service) AppendToSection(ctx context.Context, projectID, section string, entry Entry) (*TaskLedger, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append_to_section")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("section", section),
	)

	if entry.Description == "" {
		return nil, errors.New("entry description is required")
	}

	l, err := s.Read(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch section {
	case SectionFacts:
		l.Facts = append(l.Facts, Fact{Description: entry.Description, Source: entry.Provenance, Timestamp: now})
	case SectionAssumptions:
		l.Assumptions = append(l.Assumptions, Assumption{Description: entry.Description, Confidence: entry.Provenance, Timestamp: now})
	case SectionDecisions:
		l.Decisions = append(l.Decisions, Decision{Description: entry.Description, Rationale: entry.Provenance, Timestamp: now})
	case SectionBlockers:
		l.Blockers = append(l.Blockers, Blocker{Description: entry.Description, Assignee: entry.Provenance, Timestamp: now})
	default:
		return nil, fmt.Errorf("unknown ledger section: %q", section)
	}

	if err := s.Write(ctx, projectID, l); err != nil {
		return nil, err
	}

	return l, nil
}

// UpdateDeliverables replaces one phase's deliverable list.
func (s *service) UpdateDeliverables(ctx context.Context, projectID string, phase engagement.Phase, items []Deliverable) error {
	ctx, span := s.tracer.Start(ctx, "ledger.update_deliverables")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("phase", phase.String()),
	)

	l, err := s.Read(ctx, projectID)
	if err != nil {
		return err
	}

	if items == nil {
		items = []Deliverable{}
	}
	l.Deliverables[phase.String()] = items

	return s.Write(ctx, projectID, l)
}

// Close closes the service.
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

// normalize ensures collections decoded from older records are non-nil.
func normalize(l *TaskLedger) {
	if l.Facts == nil {
		l.Facts = []Fact{}
	}
	if l.Assumptions == nil {
		l.Assumptions = []Assumption{}
	}
	if l.Decisions == nil {
		l.Decisions = []Decision{}
	}
	if l.Blockers == nil {
		l.Blockers = []Blocker{}
	}
	if l.Deliverables == nil {
		l.Deliverables = map[string][]Deliverable{}
	}
}
