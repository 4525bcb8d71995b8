// Package engagement defines the shared vocabulary of an engagement:
// delivery phases, phase statuses, and the agent role names that appear
// in rosters, ledgers, and board tasks.
package engagement
