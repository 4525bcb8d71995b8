// Package artifact stores phase deliverables in per-project git
// repositories, giving every write a commit history. Validators run
// against a checked-out tree and report findings without mutating it.
package artifact
