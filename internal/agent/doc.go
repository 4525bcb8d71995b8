// Package agent defines the capability interface for a named agent. The
// session engine only ever sees Invoke; tool wiring and model clients are
// constructor-time decisions internal to each concrete agent.
package agent
