package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/agent"
	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/interrupt"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/logging"
	"github.com/crewline/crewd/internal/swarm"
)

const instrumentationName = "github.com/crewline/crewd/internal/orchestrator"

// recoveryPreamble is prepended on every retry attempt. A fresh session
// has no memory of a failed attempt's partial progress; that progress
// lives in the ledger and artifact store.
const recoveryPreamble = "NOTE: a previous attempt at this phase did not complete. " +
	"Check the task ledger and stored artifacts for work that already exists " +
	"and build on it instead of starting over."

// errPollTimeout marks an interrupt round-trip that the customer never
// answered. It is fatal and never retried.
var errPollTimeout = errors.New("interrupt poll timed out")

// Session is the slice of the swarm session the orchestrator drives.
type Session interface {
	Run(ctx context.Context, task string, shared map[string]string) (swarm.Result, error)
	PendingQuestions() []string
}

// SessionFactory builds a fresh Session for one attempt at a phase.
type SessionFactory func(phase engagement.Phase, roster Roster) (Session, error)

// Config tunes retry and interrupt handling.
type Config struct {
	MaxRetries            int
	RetryBackoff          time.Duration
	InterruptPollInterval time.Duration
	InterruptPollTimeout  time.Duration
	MaxFailureMessageLen  int
	Rosters               map[engagement.Phase]Roster
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxRetries:            2,
		RetryBackoff:          5 * time.Second,
		InterruptPollInterval: 15 * time.Second,
		InterruptPollTimeout:  24 * time.Hour,
		MaxFailureMessageLen:  4096,
		Rosters:               DefaultRosters(),
	}
}

// Dependencies wires the orchestrator's collaborators.
type Dependencies struct {
	Registry    *agent.Registry
	Ledger      ledger.Service
	Interrupts  interrupt.Service
	Broadcaster broadcast.Broadcaster
	Reporter    Reporter

	// SessionFactory overrides session construction; nil uses the swarm
	// engine with the phase roster.
	SessionFactory SessionFactory
}

// Service executes phases.
type Service interface {
	// Execute drives one phase to a terminal outcome and reports it to
	// the workflow engine through resumeToken exactly once.
	Execute(ctx context.Context, projectID string, phase engagement.Phase, resumeToken []byte, customerFeedback string) error

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	config      *Config
	registry    *agent.Registry
	ledger      ledger.Service
	interrupts  interrupt.Service
	broadcaster broadcast.Broadcaster
	reporter    Reporter
	newSession  SessionFactory
	logger      *logging.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	attemptCounter metric.Int64Counter
	outcomeCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new phase orchestrator. The logger is the
// context-aware kind; project, phase, and session correlation fields
// ride on the context rather than on a child logger.
func NewService(cfg *Config, deps Dependencies, logger *logging.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.Rosters == nil {
		cfg.Rosters = DefaultRosters()
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger service is required")
	}
	if deps.Interrupts == nil {
		return nil, errors.New("interrupt service is required")
	}
	if deps.Reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = broadcast.NewNop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &service{
		config:      cfg,
		registry:    deps.Registry,
		ledger:      deps.Ledger,
		interrupts:  deps.Interrupts,
		broadcaster: deps.Broadcaster,
		reporter:    deps.Reporter,
		newSession:  deps.SessionFactory,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}

	if s.newSession == nil {
		if deps.Registry == nil {
			return nil, errors.New("agent registry is required without a session factory")
		}
		s.newSession = s.swarmFactory
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.attemptCounter, err = s.meter.Int64Counter(
		"crewd.orchestrator.attempts_total",
		metric.WithDescription("Total number of phase session attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create attempt counter", zap.Error(err))
	}

	s.outcomeCounter, err = s.meter.Int64Counter(
		"crewd.orchestrator.outcomes_total",
		metric.WithDescription("Total number of reported phase outcomes"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create outcome counter", zap.Error(err))
	}
}

// swarmFactory builds a real session from the phase roster.
func (s *service) swarmFactory(phase engagement.Phase, roster Roster) (Session, error) {
	agents := make([]agent.Agent, 0, len(roster.Agents))
	for _, name := range roster.Agents {
		a, err := s.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("roster for %s: %w", phase, err)
		}
		agents = append(agents, a)
	}
	return swarm.NewSession(agents, roster.Entry, roster.Session, s.logger.Underlying(),
		&swarm.LoggingObserver{Logger: s.logger.Underlying()})
}

// Execute runs the bounded attempt loop for one phase.
func (s *service) Execute(ctx context.Context, projectID string, phase engagement.Phase, resumeToken []byte, customerFeedback string) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator.execute")
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

	// Every log line below this point carries the engagement correlation
	// fields via the context.
	ctx = logging.WithProjectID(ctx, projectID)
	ctx = logging.WithPhase(ctx, phase.String())

	roster, err := rosterFor(s.config.Rosters, phase)
	if err != nil {
		s.reportFailure(ctx, resumeToken, FailureKindExecution, err.Error(), projectID, phase)
		return err
	}

	baseTask, err := s.buildTask(ctx, projectID, phase, customerFeedback)
	if err != nil {
		s.reportFailure(ctx, resumeToken, FailureKindExecution, err.Error(), projectID, phase)
		return err
	}

	shared := map[string]string{
		"project_id": projectID,
		"phase":      phase.String(),
	}

	s.publish(ctx, broadcast.Event{
		Type:      broadcast.EventPhaseStarted,
		ProjectID: projectID,
		Phase:     phase.String(),
	})

	var lastErr string
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Info(ctx, "retrying phase with fresh session",
				zap.Int("attempt", attempt+1), zap.String("last_error", lastErr))
			if err := sleepCtx(ctx, s.config.RetryBackoff); err != nil {
				lastErr = err.Error()
				break
			}
		}

		task := baseTask
		if attempt > 0 {
			task = recoveryPreamble + "\n\n" + baseTask
		}

		// Each attempt is one session; its id correlates every log line
		// and interrupt of the attempt.
		attemptCtx := logging.WithSessionID(ctx, uuid.New().String())

		if s.attemptCounter != nil {
			s.attemptCounter.Add(attemptCtx, 1)
		}

		// A failed session is never reused: its conversation state may
		// be corrupted. Every attempt gets a brand-new instance.
		sess, err := s.newSession(phase, roster)
		if err != nil {
			lastErr = err.Error()
			continue
		}

		result, runErr := sess.Run(attemptCtx, task, shared)

		// A resumed run may complete, fail, or raise further interrupts,
		// so the interrupt round-trip loops until a different status.
		for runErr == nil && result.Status == swarm.StatusInterrupted {
			resumeMessage, irErr := s.interruptRoundTrip(attemptCtx, projectID, phase, sess.PendingQuestions())
			if irErr != nil {
				kind := FailureKindExecution
				if errors.Is(irErr, errPollTimeout) {
					kind = FailureKindInterruptTimeout
				}
				span.SetStatus(codes.Error, irErr.Error())
				s.reportFailure(ctx, resumeToken, kind, irErr.Error(), projectID, phase)
				return irErr
			}
			// Resume the same session instance; its handoff count and
			// conversation carry over.
			result, runErr = sess.Run(attemptCtx, resumeMessage, shared)
		}

		if runErr == nil && result.Status == swarm.StatusCompleted {
			s.logger.Info(attemptCtx, "phase completed",
				zap.Int("attempt", attempt+1),
				zap.Int("handoffs", result.Handoffs),
				zap.Strings("node_history", result.NodeHistory))
			s.reportSuccess(ctx, resumeToken, SuccessPayload{
				ProjectID: projectID,
				Phase:     phase.String(),
				Output:    result.Output,
			}, projectID, phase)
			return nil
		}

		if runErr != nil {
			lastErr = runErr.Error()
		} else {
			lastErr = result.Reason
		}
		s.logger.Warn(attemptCtx, "phase attempt failed", zap.Int("attempt", attempt+1), zap.String("reason", lastErr))
	}

	cause := truncate(lastErr, s.config.MaxFailureMessageLen)
	span.SetStatus(codes.Error, cause)
	s.reportFailure(ctx, resumeToken, FailureKindExecution, cause, projectID, phase)
	return nil
}

// buildTask assembles the initial task description, prepending customer
// revision feedback when present and briefing agents on the ledger.
func (s *service) buildTask(ctx context.Context, projectID string, phase engagement.Phase, customerFeedback string) (string, error) {
	l, err := s.ledger.Read(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to read ledger: %w", err)
	}

	var b strings.Builder
	if customerFeedback != "" {
		b.WriteString("The customer reviewed the previous submission and requested changes:\n")
		b.WriteString(customerFeedback)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Execute the %s phase for project %s (%s).\n\n", phase, l.ProjectName, projectID)
	b.WriteString(ledger.Format(l))
	return b.String(), nil
}

// interruptRoundTrip persists the session's questions, polls until every
// one is answered, and synthesizes the resume message pairing questions
// with answers in original order.
func (s *service) interruptRoundTrip(ctx context.Context, projectID string, phase engagement.Phase, questions []string) (string, error) {
	if len(questions) == 0 {
		return "", errors.New("session interrupted without questions")
	}

	ids := make([]string, len(questions))
	for i, question := range questions {
		id := uuid.New().String()
		if err := s.interrupts.Create(ctx, projectID, id, question, phase); err != nil {
			return "", fmt.Errorf("failed to persist interrupt: %w", err)
		}
		ids[i] = id
	}

	s.logger.Info(ctx, "phase paused on customer input", zap.Int("questions", len(questions)))

	// Only ids raised here are polled, and each stops being polled once
	// answered, so a second answer cannot trigger a duplicate resume.
	answers := make(map[string]string, len(ids))
	deadline := time.Now().Add(s.config.InterruptPollTimeout)
	for len(answers) < len(ids) {
		for i, id := range ids {
			if _, done := answers[id]; done {
				continue
			}
			response, err := s.interrupts.FetchResponse(ctx, projectID, id)
			if err != nil {
				s.logger.Warn(ctx, "interrupt poll failed", zap.String("interrupt_id", id), zap.Error(err))
				continue
			}
			if response != "" {
				answers[id] = response
				s.logger.Info(ctx, "interrupt answered",
					zap.String("interrupt_id", id),
					zap.Int("question_index", i))
			}
		}
		if len(answers) == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %s waiting on %d of %d answers",
				errPollTimeout, s.config.InterruptPollTimeout, len(ids)-len(answers), len(ids))
		}
		if err := sleepCtx(ctx, s.config.InterruptPollInterval); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteString("The customer answered the pending questions:\n")
	for i, question := range questions {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", question, answers[ids[i]])
	}
	b.WriteString("Continue the phase using these answers.")
	return b.String(), nil
}

func (s *service) reportSuccess(ctx context.Context, token []byte, payload SuccessPayload, projectID string, phase engagement.Phase) {
	if err := s.reporter.ReportSuccess(ctx, token, payload); err != nil {
		s.logger.Error(ctx, "failed to report phase success", zap.Error(err))
	}
	if s.outcomeCounter != nil {
		s.outcomeCounter.Add(ctx, 1)
	}
	s.publish(ctx, broadcast.Event{
		Type:      broadcast.EventPhaseCompleted,
		ProjectID: projectID,
		Phase:     phase.String(),
	})
}

func (s *service) reportFailure(ctx context.Context, token []byte, kind, cause string, projectID string, phase engagement.Phase) {
	if err := s.reporter.ReportFailure(ctx, token, kind, cause); err != nil {
		s.logger.Error(ctx, "failed to report phase failure", zap.Error(err))
	}
	if s.outcomeCounter != nil {
		s.outcomeCounter.Add(ctx, 1)
	}
	s.publish(ctx, broadcast.Event{
		Type:      broadcast.EventPhaseFailed,
		ProjectID: projectID,
		Phase:     phase.String(),
		Message:   cause,
		Fields:    map[string]string{"kind": kind},
	})
}

// publish emits a best-effort event. Broadcast failures never propagate.
func (s *service) publish(ctx context.Context, event broadcast.Event) {
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "failed to broadcast phase event",
			zap.String("type", event.Type), zap.Error(err))
	}
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

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
