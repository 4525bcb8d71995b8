package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the JetStream-backed store.
type NATSConfig struct {
	// Bucket is the JetStream KeyValue bucket name.
	Bucket string

	// Description is stored on the bucket when it is created.
	Description string
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		Bucket:      "crewd_engagements",
		Description: "crewd engagement state",
	}
}

// natsStore implements Store over a NATS JetStream KeyValue bucket.
type natsStore struct {
	config *NATSConfig
	kv     nats.KeyValue
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewNATSStore creates a Store backed by a JetStream KeyValue bucket,
// creating the bucket if it does not exist.
func NewNATSStore(nc *nats.Conn, cfg *NATSConfig, logger *zap.Logger) (Store, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg == nil {
		cfg = DefaultNATSConfig()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: cfg.Description,
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	return &natsStore{
		config: cfg,
		kv:     kv,
		logger: logger,
	}, nil
}

func (s *natsStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *natsStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.kv.Put(key, value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.kv.Purge(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *natsStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *natsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *natsStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}
