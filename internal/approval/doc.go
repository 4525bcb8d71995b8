// Package approval stores the resume token issued by the workflow engine
// when a phase reaches its human approval gate. At most one live token
// exists per (project, phase); it is redeemed exactly once by a customer
// approve or revise action.
package approval
