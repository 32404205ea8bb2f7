package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snapshots/000001.json", []byte("hello")))
	require.NoError(t, store.Put(ctx, "snapshots/000002.json", []byte("world!")))
	require.NoError(t, store.Put(ctx, "journal/seg-0", []byte("seg")))

	b, err := store.Open(ctx, "snapshots/000002.json")
	require.NoError(t, err)
	assert.Equal(t, int64(6), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "orld!", string(buf))
	require.NoError(t, b.Close())

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/000001.json", "snapshots/000002.json"}, names)

	w, err := store.Create(ctx, "snapshots/000003.json")
	require.NoError(t, err)
	_, err = w.Write([]byte("str"))
	require.NoError(t, err)
	_, err = w.Write([]byte("eamed"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	b, err = store.Open(ctx, "snapshots/000003.json")
	require.NoError(t, err)
	got := make([]byte, b.Size())
	_, err = b.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(got))
	require.NoError(t, b.Close())

	require.NoError(t, store.Delete(ctx, "snapshots/000001.json"))
	require.NoError(t, store.Delete(ctx, "snapshots/000001.json"), "deleting a missing blob is not an error")

	names, err = store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/000002.json", "snapshots/000003.json"}, names)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStoreOpenIsolatedFromPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a", []byte("old")))

	b, err := store.Open(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "a", []byte("new")))

	buf := make([]byte, 3)
	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "old", string(buf), "open handles see the blob as opened")
}
