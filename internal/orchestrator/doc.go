// Package orchestrator turns a phase name and project id into a terminal
// outcome. It assembles the phase's agent roster into a session, applies
// bounded retry with a recovery preamble, runs the interrupt round-trip
// with the customer, and reports the result to the workflow engine
// exactly once per execution.
package orchestrator
