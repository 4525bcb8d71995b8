package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a durable key-value store with prefix listing.
//
// All engagement state (ledgers, approval tokens, interrupts, board tasks,
// chat messages) lives in one bucket, partitioned by composite keys.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, creating or overwriting.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys starting with prefix, in lexicographic order.
	// An empty prefix lists the whole bucket.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the store.
	Close() error
}
