package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/agent"
)

const instrumentationName = "github.com/crewline/crewd/internal/swarm"

// Status of a session.
type Status string

const (
	StatusReady       Status = "READY"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusInterrupted Status = "INTERRUPTED"
)

// Config bounds a session run.
type Config struct {
	MaxHandoffs      int
	MaxIterations    int
	ExecutionTimeout time.Duration
	PerNodeTimeout   time.Duration

	// RepetitiveHandoffWindow is the number of recent active-node
	// transitions inspected for ping-pong loops.
	RepetitiveHandoffWindow int

	// RepetitiveHandoffMinUniqueAgents is the minimum number of distinct
	// agents that must appear in a full window; fewer means the session
	// is stuck bouncing between too few agents and is failed early.
	RepetitiveHandoffMinUniqueAgents int
}

// DefaultConfig returns limits suitable for a multi-agent phase.
func DefaultConfig() Config {
	return Config{
		MaxHandoffs:                      15,
		MaxIterations:                    40,
		ExecutionTimeout:                 30 * time.Minute,
		PerNodeTimeout:                   5 * time.Minute,
		RepetitiveHandoffWindow:          8,
		RepetitiveHandoffMinUniqueAgents: 3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxHandoffs < 1 {
		return errors.New("max handoffs must be >= 1")
	}
	if c.MaxIterations < 1 {
		return errors.New("max iterations must be >= 1")
	}
	if c.ExecutionTimeout <= 0 || c.PerNodeTimeout <= 0 {
		return errors.New("timeouts must be > 0")
	}
	if c.RepetitiveHandoffWindow < 2 {
		return errors.New("repetitive handoff window must be >= 2")
	}
	if c.RepetitiveHandoffMinUniqueAgents < 2 {
		return errors.New("repetitive handoff min unique agents must be >= 2")
	}
	return nil
}

// Result is the outcome of one Run call.
type Result struct {
	Status      Status
	Output      string
	Reason      string
	Usage       agent.Usage
	NodeHistory []string
	Handoffs    int
	Iterations  int
}

// Session executes one bounded multi-agent collaboration. It is not safe
// for concurrent use; turns are strictly sequential by design.
type Session struct {
	nodes     map[string]agent.Agent
	entry     string
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []Observer

	status       Status
	active       string
	conversation []agent.Message
	handoffs     int
	iterations   int
	elapsed      time.Duration
	window       []string
	usage        agent.Usage
	nodeHistory  []string
	lastTurn     map[string]agent.Turn
	pending      []string
	reason       string
}

// NewSession assembles a session from agent nodes with one entry point.
func NewSession(agents []agent.Agent, entry string, cfg Config, logger *zap.Logger, observers ...Observer) (*Session, error) {
	if len(agents) == 0 {
		return nil, errors.New("at least one agent is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nodes := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		if a == nil || a.Name() == "" {
			return nil, errors.New("agents must be named")
		}
		if _, dup := nodes[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent node: %s", a.Name())
		}
		nodes[a.Name()] = a
	}
	if _, ok := nodes[entry]; !ok {
		return nil, fmt.Errorf("entry node not in agent set: %s", entry)
	}

	return &Session{
		nodes:     nodes,
		entry:     entry,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		observers: observers,
		status:    StatusReady,
		lastTurn:  make(map[string]agent.Turn),
	}, nil
}

// Status returns the session's current status.
func (s *Session) Status() Status { return s.status }

// PendingQuestions returns the questions raised by the interrupting node.
// Only meaningful while status is INTERRUPTED.
func (s *Session) PendingQuestions() []string {
	return append([]string(nil), s.pending...)
}

// Run drives the session to a terminal status or an interrupt pause.
//
// The first call starts at the entry node. After an INTERRUPTED return,
// calling Run again on the same instance resumes the interrupted node
// with state (conversation, handoff count, window) intact; the follow-up
// task should embed the question/answer pairs.
func (s *Session) Run(ctx context.Context, task string, shared map[string]string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "swarm.run")
	defer span.End()
	span.SetAttributes(attribute.String("entry", s.entry))
	defer func() {
		span.SetAttributes(
			attribute.String("status", string(s.status)),
			attribute.Int("handoffs", s.handoffs),
			attribute.Int("iterations", s.iterations),
		)
	}()

	switch s.status {
	case StatusReady:
		s.active = s.entry
	case StatusInterrupted:
		s.pending = nil
	default:
		return Result{}, fmt.Errorf("session is not runnable in status %s", s.status)
	}

	s.status = StatusRunning
	s.conversation = append(s.conversation, agent.Message{Author: "user", Content: task})

	started := time.Now()
	defer func() { s.elapsed += time.Since(started) }()

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(fmt.Sprintf("run cancelled at node %s: %v", s.active, err)), nil
		}
		if s.iterations >= s.config.MaxIterations {
			return s.fail(fmt.Sprintf("iteration limit exceeded (%d) at node %s", s.config.MaxIterations, s.active)), nil
		}
		if s.elapsed+time.Since(started) >= s.config.ExecutionTimeout {
			return s.fail(fmt.Sprintf("execution timeout (%s) exceeded at node %s", s.config.ExecutionTimeout, s.active)), nil
		}

		turn, err := s.invokeActive(ctx, task, shared)
		s.iterations++
		if err != nil {
			return s.fail(fmt.Sprintf("node %s failed: %v", s.active, err)), nil
		}

		if turn.Message != "" {
			s.conversation = append(s.conversation, agent.Message{Author: s.active, Content: turn.Message})
		}
		s.usage.Add(turn.Usage)
		s.lastTurn[s.active] = turn
		s.notify(func(o Observer) { o.OnNodeComplete(s.active, turn) })

		if len(turn.InterruptQuestions) > 0 {
			// An interrupt is a pause, not an ending; OnSessionComplete
			// fires once, after the resumed run reaches a terminal status.
			s.status = StatusInterrupted
			s.pending = append([]string(nil), turn.InterruptQuestions...)
			return s.result(), nil
		}

		if turn.HandoffTarget != "" {
			if _, ok := s.nodes[turn.HandoffTarget]; !ok {
				return s.fail(fmt.Sprintf("node %s handed off to unknown node %s", s.active, turn.HandoffTarget)), nil
			}
			s.handoffs++
			if s.handoffs > s.config.MaxHandoffs {
				return s.fail(fmt.Sprintf("handoff limit exceeded (%d)", s.config.MaxHandoffs)), nil
			}
			s.active = turn.HandoffTarget
			s.pushTransition(s.active)
			if s.pingPong() {
				return s.fail(fmt.Sprintf("repetitive handoff detected: fewer than %d distinct agents in last %d transitions",
					s.config.RepetitiveHandoffMinUniqueAgents, s.config.RepetitiveHandoffWindow)), nil
			}
			continue
		}

		if turn.Done {
			s.status = StatusCompleted
			result := s.result()
			result.Output = turn.Message
			s.notify(func(o Observer) { o.OnSessionComplete(result) })
			return result, nil
		}

		// The agent kept the floor; loop for another turn.
	}
}

// invokeActive runs one turn of the active node under the per-node budget.
func (s *Session) invokeActive(ctx context.Context, task string, shared map[string]string) (agent.Turn, error) {
	node := s.nodes[s.active]
	s.nodeHistory = append(s.nodeHistory, s.active)
	s.notify(func(o Observer) { o.OnNodeStart(s.active) })

	nodeCtx, cancel := context.WithTimeout(ctx, s.config.PerNodeTimeout)
	defer cancel()

	turn, err := node.Invoke(nodeCtx, task, shared, append([]agent.Message(nil), s.conversation...))
	if err != nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		return agent.Turn{}, fmt.Errorf("turn exceeded per-node timeout %s: %w", s.config.PerNodeTimeout, err)
	}
	return turn, err
}

// pushTransition records an active-node transition in the sliding window.
func (s *Session) pushTransition(node string) {
	s.window = append(s.window, node)
	if len(s.window) > s.config.RepetitiveHandoffWindow {
		s.window = s.window[1:]
	}
}

// pingPong reports whether the full window contains too few distinct
// agents, the signature of a two-agent infinite back-and-forth.
func (s *Session) pingPong() bool {
	if len(s.window) < s.config.RepetitiveHandoffWindow {
		return false
	}
	distinct := make(map[string]struct{}, len(s.window))
	for _, node := range s.window {
		distinct[node] = struct{}{}
	}
	return len(distinct) < s.config.RepetitiveHandoffMinUniqueAgents
}

func (s *Session) fail(reason string) Result {
	s.status = StatusFailed
	s.reason = reason
	result := s.result()
	s.notify(func(o Observer) { o.OnSessionComplete(result) })
	return result
}

func (s *Session) result() Result {
	return Result{
		Status:      s.status,
		Reason:      s.reason,
		Usage:       s.usage,
		NodeHistory: append([]string(nil), s.nodeHistory...),
		Handoffs:    s.handoffs,
		Iterations:  s.iterations,
	}
}
