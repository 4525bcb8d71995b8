// Package ledger stores the durable task ledger for each project: facts,
// assumptions, decisions, blockers, and per-phase deliverables. The ledger
// is read-whole/write-whole with a single logical writer (the project
// manager role), so writes are last-writer-wins by design.
package ledger
