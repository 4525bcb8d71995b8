package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	store, err := NewGitStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := store.WriteFile(ctx, "proj-1", "docs/design.md", []byte("# Design"), "add design doc")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	content, err := store.ReadFile(ctx, "proj-1", "docs/design.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("# Design"), content)
}

func TestWriteFile_NewCommitPerWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.WriteFile(ctx, "proj-1", "main.tf", []byte("v1"), "initial")
	require.NoError(t, err)
	second, err := store.WriteFile(ctx, "proj-1", "main.tf", []byte("v2"), "revise")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	content, err := store.ReadFile(ctx, "proj-1", "main.tf")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)
}

func TestListFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	files, err := store.ListFiles(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = store.WriteFile(ctx, "proj-1", "docs/sow.md", []byte("sow"), "")
	require.NoError(t, err)
	_, err = store.WriteFile(ctx, "proj-1", "infra/main.tf", []byte("tf"), "")
	require.NoError(t, err)

	files, err = store.ListFiles(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/sow.md", "infra/main.tf"}, files)
}

func TestProjectsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.WriteFile(ctx, "proj-1", "a.txt", []byte("a"), "")
	require.NoError(t, err)

	_, err = store.ReadFile(ctx, "proj-2", "a.txt")
	assert.Error(t, err)
}

func TestWriteFile_RejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"", "/etc/passwd", "../outside.txt", "docs/../../escape.txt", "."} {
		_, err := store.WriteFile(ctx, "proj-1", path, []byte("x"), "")
		assert.Error(t, err, "path %q should be rejected", path)
	}
}

func TestNopValidator(t *testing.T) {
	findings, err := NewNopValidator().Validate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, findings)
}
