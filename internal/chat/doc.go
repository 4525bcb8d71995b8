// Package chat stores the customer-facing message log for a project.
// Messages are keyed by a zero-padded timestamp so a prefix listing
// returns them in time order without a secondary index.
package chat
