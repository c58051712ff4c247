package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// 1. Create a blob; it becomes visible on Close.
	w, err := store.Create(ctx, "data-001.bin")
	require.NoError(t, err)

	_, err = store.Open(ctx, "data-001.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, "data-001.bin")
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(11), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	// 3. ReadAt past EOF
	_, err = blob.ReadAt(buf, 100)
	assert.ErrorIs(t, err, io.EOF)

	// 4. Put overwrites atomically
	require.NoError(t, store.Put(ctx, "data-001.bin", []byte("new")))

	// Already-open blobs keep their snapshot.
	n, err = blob.ReadAt(buf[:5], 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	// 5. List with prefix
	require.NoError(t, store.Put(ctx, "data-002.bin", []byte("x")))
	require.NoError(t, store.Put(ctx, "other.bin", []byte("y")))

	names, err := store.List(ctx, "data-")
	require.NoError(t, err)
	assert.Equal(t, []string{"data-001.bin", "data-002.bin"}, names)

	// 6. Delete
	require.NoError(t, store.Delete(ctx, "data-001.bin"))
	_, err = store.Open(ctx, "data-001.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob is not an error.
	require.NoError(t, store.Delete(ctx, "data-001.bin"))
}

func TestMemoryStore_PutCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "blob", data))
	data[0] = 'X'

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, blob.Size())
	_, err = blob.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "original", string(buf))
}
