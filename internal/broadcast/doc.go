// Package broadcast publishes engagement events to interested observers.
// Events are fire-and-forget: a failed publish is logged and never blocks
// or fails the operation that produced it.
package broadcast
