package kv

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestNATSStore(t *testing.T) Store {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	store, err := NewNATSStore(nc, &NATSConfig{Bucket: "test_bucket"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storeImpls runs a subtest against both Store implementations.
func storeImpls(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("nats", func(t *testing.T) {
		fn(t, newTestNATSStore(t))
	})
}

func TestStore_PutGet(t *testing.T) {
	storeImpls(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		_, err := store.Get(ctx, "proj-1.LEDGER")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.Put(ctx, "proj-1.LEDGER", []byte(`{"a":1}`)))

		value, err := store.Get(ctx, "proj-1.LEDGER")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), value)

		// Overwrite
		require.NoError(t, store.Put(ctx, "proj-1.LEDGER", []byte(`{"a":2}`)))
		value, err = store.Get(ctx, "proj-1.LEDGER")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":2}`), value)
	})
}

func TestStore_Delete(t *testing.T) {
	storeImpls(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "proj-1.TOKEN.POC", []byte("tok")))
		require.NoError(t, store.Delete(ctx, "proj-1.TOKEN.POC"))

		_, err := store.Get(ctx, "proj-1.TOKEN.POC")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing key is not an error.
		assert.NoError(t, store.Delete(ctx, "proj-1.TOKEN.POC"))
	})
}

func TestStore_KeysPrefix(t *testing.T) {
	storeImpls(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		keys, err := store.Keys(ctx, "proj-1.")
		require.NoError(t, err)
		assert.Empty(t, keys)

		require.NoError(t, store.Put(ctx, "proj-1.TASK.POC.b", []byte("1")))
		require.NoError(t, store.Put(ctx, "proj-1.TASK.POC.a", []byte("2")))
		require.NoError(t, store.Put(ctx, "proj-1.TASK.HANDOFF.c", []byte("3")))
		require.NoError(t, store.Put(ctx, "proj-2.TASK.POC.d", []byte("4")))

		keys, err = store.Keys(ctx, "proj-1.TASK.POC.")
		require.NoError(t, err)
		assert.Equal(t, []string{"proj-1.TASK.POC.a", "proj-1.TASK.POC.b"}, keys)

		keys, err = store.Keys(ctx, "proj-1.")
		require.NoError(t, err)
		assert.Len(t, keys, 3)
	})
}

func TestStore_ContextCancelled(t *testing.T) {
	storeImpls(t, func(t *testing.T, store Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, store.Put(ctx, "k", nil), context.Canceled)
	})
}

func TestStore_Closed(t *testing.T) {
	storeImpls(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.Close())

		_, err := store.Get(ctx, "k")
		assert.Error(t, err)
		assert.Error(t, store.Put(ctx, "k", []byte("v")))
	})
}

func TestNewNATSStore_RequiresConnection(t *testing.T) {
	_, err := NewNATSStore(nil, nil, nil)
	require.Error(t, err)
}

func TestNewNATSStore_ReopensExistingBucket(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	cfg := &NATSConfig{Bucket: "reopen_bucket"}

	first, err := NewNATSStore(nc, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, first.Close())

	second, err := NewNATSStore(nc, cfg, nil)
	require.NoError(t, err)
	value, err := second.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
