package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)

	stores := map[string]KVStore{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, "templates")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "templates", `[{"id":"1"}]`))
			v, ok, err := store.Get(ctx, "templates")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[{"id":"1"}]`, v)

			require.NoError(t, store.Set(ctx, "templates", "[]"))
			v, _, err = store.Get(ctx, "templates")
			require.NoError(t, err)
			assert.Equal(t, "[]", v)
		})
	}
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		err := store.Set(context.Background(), key, "x")
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "k", "v"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}
