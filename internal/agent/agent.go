package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Message is one entry in a session conversation.
type Message struct {
	// Author is the agent role name, or "user" for synthesized task and
	// resume messages.
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Usage accumulates model token consumption across turns.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Turn is the outcome of one agent invocation. Exactly one of the
// following shapes is meaningful:
//   - HandoffTarget set: pass the baton to the named agent
//   - InterruptQuestions set: pause the whole session for human input
//   - Done true: the agent considers the collaboration finished
//   - none of the above: the agent keeps the floor for another turn
type Turn struct {
	Message            string   `json:"message"`
	HandoffTarget      string   `json:"handoff_target,omitempty"`
	InterruptQuestions []string `json:"interrupt_questions,omitempty"`
	Done               bool     `json:"done"`
	Usage              Usage    `json:"usage"`
}

// Agent is one named capability in a phase roster.
type Agent interface {
	// Name returns the agent's roster name.
	Name() string

	// Invoke runs one turn. The conversation holds every prior message in
	// order; shared is a flat request-scoped key-value map carrying
	// identifiers like project id and phase.
	Invoke(ctx context.Context, task string, shared map[string]string, conversation []Message) (Turn, error)
}

// Func adapts a function to the Agent interface.
type Func struct {
	AgentName string
	Fn        func(ctx context.Context, task string, shared map[string]string, conversation []Message) (Turn, error)
}

func (f Func) Name() string { return f.AgentName }

func (f Func) Invoke(ctx context.Context, task string, shared map[string]string, conversation []Message) (Turn, error) {
	return f.Fn(ctx, task, shared, conversation)
}

// Registry holds the named agents available for roster assembly.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its name. Registering a duplicate name is
// an error.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return errors.New("agent is required")
	}
	if a.Name() == "" {
		return errors.New("agent name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("agent already registered: %s", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent not registered: %s", name)
	}
	return a, nil
}

// Names returns all registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
