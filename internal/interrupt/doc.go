// Package interrupt stores mid-phase questions that only the customer can
// answer. An interrupt is PENDING until answered; the polling primitive
// FetchResponse is gated on status, never on the response field, so a
// partially written answer is never observed.
package interrupt
