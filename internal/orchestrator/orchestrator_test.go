package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewd/internal/agent"
	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/interrupt"
	"github.com/crewline/crewd/internal/kv"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/logging"
	"github.com/crewline/crewd/internal/swarm"
	"github.com/crewline/crewd/internal/telemetry"
)

// fakeReporter records workflow engine reports.
type fakeReporter struct {
	mu        sync.Mutex
	successes []SuccessPayload
	failures  []struct{ Kind, Cause string }
	tokens    [][]byte
}

func (r *fakeReporter) ReportSuccess(_ context.Context, token []byte, payload SuccessPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.successes = append(r.successes, payload)
	return nil
}

func (r *fakeReporter) ReportFailure(_ context.Context, token []byte, kind, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.failures = append(r.failures, struct{ Kind, Cause string }{kind, cause})
	return nil
}

func (r *fakeReporter) reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes) + len(r.failures)
}

// scriptedSession replays run outcomes and records the tasks and the
// correlation fields each run's context carried.
type scriptedSession struct {
	outcomes    []swarm.Result
	errs        []error
	pending     []string
	tasks       []string
	ctxProjects []string
	ctxPhases   []string
	ctxSessions []string
	calls       int
}

func (s *scriptedSession) Run(ctx context.Context, task string, _ map[string]string) (swarm.Result, error) {
	s.tasks = append(s.tasks, task)
	s.ctxProjects = append(s.ctxProjects, logging.ProjectIDFromContext(ctx))
	s.ctxPhases = append(s.ctxPhases, logging.PhaseFromContext(ctx))
	s.ctxSessions = append(s.ctxSessions, logging.SessionIDFromContext(ctx))
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.outcomes[i], err
}

func (s *scriptedSession) PendingQuestions() []string { return s.pending }

type testEnv struct {
	svc        Service
	reporter   *fakeReporter
	interrupts interrupt.Service
	ledger     ledger.Service
}

func newTestEnv(t *testing.T, cfg *Config, factory SessionFactory) *testEnv {
	store := kv.NewMemoryStore()
	ledgerSvc, err := ledger.NewService(store, nil)
	require.NoError(t, err)
	interruptSvc, err := interrupt.NewService(store, nil, nil)
	require.NoError(t, err)

	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	cfg.RetryBackoff = time.Millisecond
	cfg.InterruptPollInterval = 5 * time.Millisecond
	if cfg.InterruptPollTimeout == 24*time.Hour || cfg.InterruptPollTimeout == 0 {
		cfg.InterruptPollTimeout = time.Second
	}

	reporter := &fakeReporter{}
	svc, err := NewService(cfg, Dependencies{
		Registry:       agent.NewRegistry(),
		Ledger:         ledgerSvc,
		Interrupts:     interruptSvc,
		Reporter:       reporter,
		SessionFactory: factory,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return &testEnv{svc: svc, reporter: reporter, interrupts: interruptSvc, ledger: ledgerSvc}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	var constructions int
	factory := func(engagement.Phase, Roster) (Session, error) {
		constructions++
		return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusCompleted, Output: "phase done"}}}, nil
	}

	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhaseDiscovery, []byte("tok"), "")
	require.NoError(t, err)

	assert.Equal(t, 1, constructions)
	require.Len(t, env.reporter.successes, 1)
	assert.Equal(t, "phase done", env.reporter.successes[0].Output)
	assert.Empty(t, env.reporter.failures)
	assert.Equal(t, 1, env.reporter.reports())
}

func TestExecute_RetryExhaustionDeterminism(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 4} {
		var constructions int
		factory := func(engagement.Phase, Roster) (Session, error) {
			constructions++
			return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusFailed, Reason: "handoff limit exceeded"}}}, nil
		}

		cfg := DefaultServiceConfig()
		cfg.MaxRetries = maxRetries
		env := newTestEnv(t, cfg, factory)

		err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
		require.NoError(t, err)

		assert.Equal(t, maxRetries+1, constructions, "maxRetries=%d", maxRetries)
		require.Len(t, env.reporter.failures, 1)
		assert.Equal(t, FailureKindExecution, env.reporter.failures[0].Kind)
		assert.Contains(t, env.reporter.failures[0].Cause, "handoff limit exceeded")
		assert.Equal(t, 1, env.reporter.reports())
	}
}

func TestExecute_RecoveryPreambleOnRetryOnly(t *testing.T) {
	var sessions []*scriptedSession
	factory := func(engagement.Phase, Roster) (Session, error) {
		outcome := swarm.Result{Status: swarm.StatusFailed, Reason: "boom"}
		if len(sessions) == 1 {
			outcome = swarm.Result{Status: swarm.StatusCompleted, Output: "ok"}
		}
		s := &scriptedSession{outcomes: []swarm.Result{outcome}}
		sessions = append(sessions, s)
		return s, nil
	}

	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)

	require.Len(t, sessions, 2)
	assert.NotContains(t, sessions[0].tasks[0], "previous attempt")
	assert.Contains(t, sessions[1].tasks[0], "previous attempt")
	require.Len(t, env.reporter.successes, 1)
}

func TestExecute_CustomerFeedbackPrepended(t *testing.T) {
	var captured *scriptedSession
	factory := func(engagement.Phase, Roster) (Session, error) {
		captured = &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusCompleted}}}
		return captured, nil
	}

	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"),
		"Please use a serverless design instead.")
	require.NoError(t, err)

	require.Len(t, captured.tasks, 1)
	assert.Contains(t, captured.tasks[0], "Please use a serverless design instead.")
	// Feedback comes before the phase instruction.
	assert.Less(t,
		strings.Index(captured.tasks[0], "serverless design"),
		strings.Index(captured.tasks[0], "Execute the POC phase"))
}

func TestExecute_SessionErrorIsRetried(t *testing.T) {
	var constructions int
	factory := func(engagement.Phase, Roster) (Session, error) {
		constructions++
		if constructions == 1 {
			return &scriptedSession{
				outcomes: []swarm.Result{{}},
				errs:     []error{errors.New("worker crashed")},
			}, nil
		}
		return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusCompleted}}}, nil
	}

	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, constructions)
	require.Len(t, env.reporter.successes, 1)
}

func TestExecute_InterruptResumeScenario(t *testing.T) {
	// Scenario: the session asks one question, the customer answers after
	// a couple of empty poll cycles, and the same session resumes with a
	// message carrying question and answer verbatim.
	session := &scriptedSession{
		outcomes: []swarm.Result{
			{Status: swarm.StatusInterrupted},
			{Status: swarm.StatusCompleted, Output: "done with answers"},
		},
		pending: []string{"What is the budget ceiling?"},
	}
	var constructions int
	factory := func(engagement.Phase, Roster) (Session, error) {
		constructions++
		return session, nil
	}

	env := newTestEnv(t, nil, factory)

	// Answer the interrupt once it shows up in the store.
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			records, err := env.interrupts.List(context.Background(), "proj-1")
			if err == nil && len(records) == 1 {
				time.Sleep(12 * time.Millisecond) // let a couple of polls see PENDING
				_ = env.interrupts.Answer(context.Background(), "proj-1", records[0].ID, "$8000/month")
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)

	// Interrupt resume reuses the same session; no retry consumed.
	assert.Equal(t, 1, constructions)
	require.Equal(t, 2, session.calls)
	resume := session.tasks[1]
	assert.Contains(t, resume, "Q: What is the budget ceiling?")
	assert.Contains(t, resume, "A: $8000/month")
	require.Len(t, env.reporter.successes, 1)
	assert.Equal(t, "done with answers", env.reporter.successes[0].Output)
}

func TestExecute_InterruptThenFailureStillRetries(t *testing.T) {
	var constructions int
	factory := func(engagement.Phase, Roster) (Session, error) {
		constructions++
		if constructions == 1 {
			return &scriptedSession{
				outcomes: []swarm.Result{
					{Status: swarm.StatusInterrupted},
					{Status: swarm.StatusFailed, Reason: "stuck after resume"},
				},
				pending: []string{"Which VPC?"},
			}, nil
		}
		return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusCompleted}}}, nil
	}

	cfg := DefaultServiceConfig()
	cfg.MaxRetries = 1
	env := newTestEnv(t, cfg, factory)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			records, err := env.interrupts.List(context.Background(), "proj-1")
			if err == nil && len(records) == 1 {
				_ = env.interrupts.Answer(context.Background(), "proj-1", records[0].ID, "vpc-main")
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)

	// The interrupt pause consumed no retry: one retry budget allowed the
	// second, successful session.
	assert.Equal(t, 2, constructions)
	require.Len(t, env.reporter.successes, 1)
}

func TestExecute_InterruptPollTimeoutIsFatal(t *testing.T) {
	var constructions int
	factory := func(engagement.Phase, Roster) (Session, error) {
		constructions++
		return &scriptedSession{
			outcomes: []swarm.Result{{Status: swarm.StatusInterrupted}},
			pending:  []string{"Is anyone there?"},
		}, nil
	}

	cfg := DefaultServiceConfig()
	cfg.MaxRetries = 2
	cfg.InterruptPollTimeout = 30 * time.Millisecond
	env := newTestEnv(t, cfg, factory)

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errPollTimeout)

	// Fatal: no retry despite remaining budget, one distinct failure report.
	assert.Equal(t, 1, constructions)
	require.Len(t, env.reporter.failures, 1)
	assert.Equal(t, FailureKindInterruptTimeout, env.reporter.failures[0].Kind)
	assert.Equal(t, 1, env.reporter.reports())
}

func TestExecute_FailureMessageTruncated(t *testing.T) {
	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'x'
	}
	factory := func(engagement.Phase, Roster) (Session, error) {
		return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusFailed, Reason: string(long)}}}, nil
	}

	cfg := DefaultServiceConfig()
	cfg.MaxRetries = 0
	cfg.MaxFailureMessageLen = 256
	env := newTestEnv(t, cfg, factory)

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)
	require.Len(t, env.reporter.failures, 1)
	assert.Len(t, env.reporter.failures[0].Cause, 256)
}

func TestExecute_UnknownPhase(t *testing.T) {
	env := newTestEnv(t, nil, func(engagement.Phase, Roster) (Session, error) {
		t.Fatal("factory must not be called for unknown phase")
		return nil, nil
	})

	err := env.svc.Execute(context.Background(), "proj-1", engagement.Phase("SHIPPING"), []byte("tok"), "")
	require.Error(t, err)
	require.Len(t, env.reporter.failures, 1)
}

func TestExecute_ContextCarriesCorrelation(t *testing.T) {
	var sessions []*scriptedSession
	factory := func(engagement.Phase, Roster) (Session, error) {
		outcome := swarm.Result{Status: swarm.StatusFailed, Reason: "boom"}
		if len(sessions) == 1 {
			outcome = swarm.Result{Status: swarm.StatusCompleted}
		}
		s := &scriptedSession{outcomes: []swarm.Result{outcome}}
		sessions = append(sessions, s)
		return s, nil
	}

	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhasePOC, []byte("tok"), "")
	require.NoError(t, err)

	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, []string{"proj-1"}, s.ctxProjects)
		assert.Equal(t, []string{"POC"}, s.ctxPhases)
		require.Len(t, s.ctxSessions, 1)
		assert.NotEmpty(t, s.ctxSessions[0])
	}
	// Each attempt gets its own session id.
	assert.NotEqual(t, sessions[0].ctxSessions[0], sessions[1].ctxSessions[0])
}

func TestExecute_EmitsSpansAndMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	factory := func(engagement.Phase, Roster) (Session, error) {
		return &scriptedSession{outcomes: []swarm.Result{{Status: swarm.StatusCompleted}}}, nil
	}

	// The tracer and meter resolve at construction, so the service must
	// be built after the test providers are installed.
	env := newTestEnv(t, nil, factory)
	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhaseDiscovery, []byte("tok"), "")
	require.NoError(t, err)

	span := tt.RequireSpan(t, "orchestrator.execute")
	project, ok := telemetry.SpanAttr(span, "project_id")
	require.True(t, ok)
	assert.Equal(t, "proj-1", project)
	phase, ok := telemetry.SpanAttr(span, "phase")
	require.True(t, ok)
	assert.Equal(t, "DISCOVERY", phase)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["crewd.orchestrator.attempts_total"])
	assert.True(t, names["crewd.orchestrator.outcomes_total"])
}

// End-to-end against the real swarm engine.

func newSwarmEnv(t *testing.T, registry *agent.Registry, rosters map[engagement.Phase]Roster, maxRetries int) *testEnv {
	store := kv.NewMemoryStore()
	ledgerSvc, err := ledger.NewService(store, nil)
	require.NoError(t, err)
	interruptSvc, err := interrupt.NewService(store, nil, nil)
	require.NoError(t, err)

	cfg := DefaultServiceConfig()
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = time.Millisecond
	cfg.Rosters = rosters

	reporter := &fakeReporter{}
	svc, err := NewService(cfg, Dependencies{
		Registry:   registry,
		Ledger:     ledgerSvc,
		Interrupts: interruptSvc,
		Reporter:   reporter,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return &testEnv{svc: svc, reporter: reporter, interrupts: interruptSvc, ledger: ledgerSvc}
}

func TestExecute_DiscoveryEndToEnd(t *testing.T) {
	registry := agent.NewRegistry()
	var order []string
	require.NoError(t, registry.Register(agent.Func{AgentName: engagement.RoleProjectManager,
		Fn: func(_ context.Context, task string, shared map[string]string, _ []agent.Message) (agent.Turn, error) {
			order = append(order, "pm")
			if !strings.Contains(task, "Build a data lake") {
				return agent.Turn{}, errors.New("missing project brief")
			}
			if shared["project_id"] != "proj-1" {
				return agent.Turn{}, errors.New("missing shared project id")
			}
			return agent.Turn{Message: "requirements gathered", HandoffTarget: engagement.RoleSolutionsArchitect}, nil
		}}))
	require.NoError(t, registry.Register(agent.Func{AgentName: engagement.RoleSolutionsArchitect,
		Fn: func(context.Context, string, map[string]string, []agent.Message) (agent.Turn, error) {
			order = append(order, "sa")
			return agent.Turn{Message: "high level design drafted", Done: true}, nil
		}}))

	env := newSwarmEnv(t, registry, DefaultRosters(), 2)

	// Seed the ledger the way project creation does.
	l := ledger.NewTaskLedger("proj-1")
	l.ProjectName = "Build a data lake"
	l.OwnerID = "owner-1"
	require.NoError(t, env.ledger.Write(context.Background(), "proj-1", l))

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhaseDiscovery, []byte("tok"), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"pm", "sa"}, order)
	require.Len(t, env.reporter.successes, 1)
	assert.Equal(t, 1, env.reporter.reports())
}

func TestExecute_ArchitecturePingPongFailsEarly(t *testing.T) {
	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(agent.Func{AgentName: engagement.RoleSolutionsArchitect,
		Fn: func(context.Context, string, map[string]string, []agent.Message) (agent.Turn, error) {
			return agent.Turn{HandoffTarget: engagement.RoleInfra}, nil
		}}))
	var infraTurns int
	require.NoError(t, registry.Register(agent.Func{AgentName: engagement.RoleInfra,
		Fn: func(context.Context, string, map[string]string, []agent.Message) (agent.Turn, error) {
			infraTurns++
			return agent.Turn{HandoffTarget: engagement.RoleSecurity}, nil
		}}))
	require.NoError(t, registry.Register(agent.Func{AgentName: engagement.RoleSecurity,
		Fn: func(context.Context, string, map[string]string, []agent.Message) (agent.Turn, error) {
			return agent.Turn{HandoffTarget: engagement.RoleInfra}, nil
		}}))

	env := newSwarmEnv(t, registry, DefaultRosters(), 0)

	err := env.svc.Execute(context.Background(), "proj-1", engagement.PhaseArchitecture, []byte("tok"), "")
	require.NoError(t, err)

	require.Len(t, env.reporter.failures, 1)
	assert.Contains(t, env.reporter.failures[0].Cause, "repetitive handoff")
	// Detection fires at the window bound, well under the handoff ceiling.
	roster := DefaultRosters()[engagement.PhaseArchitecture]
	assert.Less(t, infraTurns, roster.Session.MaxHandoffs)
}

