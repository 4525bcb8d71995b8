// Package swarm runs one bounded, handoff-driven multi-agent session.
// Agents take turns sequentially, passing the baton by name; safety
// limits (handoff ceiling, iteration ceiling, wall-clock budgets, and
// sliding-window ping-pong detection) guarantee termination. A session
// can pause for human input and later resume with its state intact.
package swarm
