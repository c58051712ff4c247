package kivo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kivo/snapshot"
)

func openMem(t *testing.T, optFns ...Option) *DB {
	t.Helper()

	db, err := Open(context.Background(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	// 1. Put and Get
	require.NoError(t, db.Put(ctx, []byte("key"), []byte("value")))

	value, err := db.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	// 2. Overwrite
	require.NoError(t, db.Put(ctx, []byte("key"), []byte("value2")))
	value, err = db.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value2"), value)

	// 3. Exists / Len / IsEmpty
	found, err := db.Exists([]byte("key"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, db.Len())
	assert.False(t, db.IsEmpty())

	// 4. Delete reports prior existence
	existed, err := db.Delete(ctx, []byte("key"))
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = db.Delete(ctx, []byte("key"))
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = db.Get([]byte("key"))
	assert.ErrorIs(t, err, ErrNotFound)

	// 5. Clear
	require.NoError(t, db.Put(ctx, []byte("k2"), []byte("v2")))
	require.NoError(t, db.Clear(ctx))
	assert.True(t, db.IsEmpty())

	// 6. Close; further operations fail, a second Close is a no-op
	require.NoError(t, db.Put(ctx, []byte("k3"), []byte("v3")))
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Put(ctx, []byte("k"), []byte("v")), ErrAlreadyClosed)
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	// Len and IsEmpty stop reporting store contents once closed.
	assert.Zero(t, db.Len())
	assert.True(t, db.IsEmpty())
	require.NoError(t, db.Close())
}

func TestDB_Validation(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	assert.ErrorIs(t, db.Put(ctx, nil, []byte("v")), ErrInvalidArgument)
	assert.ErrorIs(t, db.Put(ctx, []byte{}, []byte("v")), ErrInvalidArgument)

	_, err := db.Get(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = db.Delete(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	bigKey := make([]byte, MaxKeySize+1)
	assert.ErrorIs(t, db.Put(ctx, bigKey, []byte("v")), ErrInvalidArgument)

	// Empty values are legal; empty keys are not.
	require.NoError(t, db.Put(ctx, []byte("k"), nil))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestDB_PutThenDeleteOrdering(t *testing.T) {
	ctx := context.Background()
	db := openMem(t, WithDurability(DurabilityNone))

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v")))
	existed, err := db.Delete(ctx, []byte("k"))
	require.NoError(t, err)
	assert.True(t, existed)

	// The delete's tombstone must win over the earlier put, in the cache
	// as well as the store.
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := db.Exists([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDB_BuffersAreCopied(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	key := []byte("key")
	value := []byte("value")
	require.NoError(t, db.Put(ctx, key, value))

	// Mutating the caller's buffers after Put must not reach the store.
	value[0] = 'X'
	got, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	// Mutating a returned value must not corrupt later reads.
	got[0] = 'Y'
	got2, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got2)
}

func TestDB_DegradedDurability(t *testing.T) {
	db := openMem(t, WithDurability(DurabilitySynced))

	// No storage path: the request stands, the effective level degrades.
	assert.Equal(t, DurabilitySynced, db.Durability())
	assert.Equal(t, DurabilityNone, db.EffectiveDurability())

	// Writes still work with None semantics.
	require.NoError(t, db.Put(context.Background(), []byte("k"), []byte("v")))
}

func TestDB_RejectsTooManyShards(t *testing.T) {
	_, err := Open(context.Background(), WithNumShards(100000))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDB_Sharded(t *testing.T) {
	ctx := context.Background()
	db := openMem(t, WithNumShards(8))

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put(ctx, []byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i))))
	}
	assert.Equal(t, 100, db.Len())

	value, err := db.Get([]byte("key-042"))
	require.NoError(t, err)
	assert.Equal(t, []byte("val-042"), value)
}

func TestDB_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	db := openMem(t, WithNumShards(4))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				key := []byte(fmt.Sprintf("w%d-key-%02d", w, i))
				if err := db.Put(ctx, key, []byte("v")); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, db.Flush(ctx))
	assert.Equal(t, 200, db.Len())
}

func TestDB_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx,
		WithPath(dir),
		WithBatchMaxLatency(time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, DurabilityBuffered, db.EffectiveDurability())

	for i := 0; i < 10; i++ {
		require.NoError(t, db.Put(ctx, []byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("val-%02d", i))))
	}
	existed, err := db.Delete(ctx, []byte("key-03"))
	require.NoError(t, err)
	require.True(t, existed)

	require.NoError(t, db.Close())

	// Reopen: state comes back from the write-ahead log.
	db2, err := Open(ctx, WithPath(dir))
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, 9, db2.Len())

	value, err := db2.Get([]byte("key-07"))
	require.NoError(t, err)
	assert.Equal(t, []byte("val-07"), value)

	_, err = db2.Get([]byte("key-03"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Sequencing continues; new writes land after recovery.
	require.NoError(t, db2.Put(ctx, []byte("after"), []byte("reopen")))
	value, err = db2.Get([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, []byte("reopen"), value)
}

func TestDB_SyncedPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx,
		WithPath(dir),
		WithDurability(DurabilitySynced),
		WithBatchMaxLatency(time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, DurabilitySynced, db.EffectiveDurability())

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db2, err := Open(ctx, WithPath(dir))
	require.NoError(t, err)
	defer db2.Close()

	value, err := db2.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestDB_ClearPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, WithPath(dir), WithBatchMaxLatency(time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, db.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(ctx, []byte("b"), []byte("2")))
	require.NoError(t, db.Clear(ctx))
	require.NoError(t, db.Put(ctx, []byte("c"), []byte("3")))
	require.NoError(t, db.Close())

	db2, err := Open(ctx, WithPath(dir))
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, 1, db2.Len())
	value, err := db2.Get([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
}

func TestDB_CheckpointAndRecover(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx,
		WithPath(dir),
		WithNumShards(4),
		WithBatchMaxLatency(time.Millisecond),
		WithSnapshotOptions(snapshot.Options{Compression: snapshot.CompressionLZ4}),
	)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, db.Put(ctx, []byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("val-%02d", i))))
	}

	require.NoError(t, db.Checkpoint(ctx))

	// The snapshot blob exists on disk.
	_, err = os.Stat(filepath.Join(dir, snapshot.BlobName))
	require.NoError(t, err)

	// Writes after the checkpoint land in the truncated log.
	require.NoError(t, db.Put(ctx, []byte("post"), []byte("checkpoint")))
	require.NoError(t, db.Close())

	// Recovery = snapshot + committed log tail.
	db2, err := Open(ctx, WithPath(dir), WithNumShards(4))
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, 21, db2.Len())

	value, err := db2.Get([]byte("key-11"))
	require.NoError(t, err)
	assert.Equal(t, []byte("val-11"), value)

	value, err = db2.Get([]byte("post"))
	require.NoError(t, err)
	assert.Equal(t, []byte("checkpoint"), value)

	// Sequencing continues past the snapshot's high-water mark.
	require.NoError(t, db2.Put(ctx, []byte("key-11"), []byte("updated")))
	value, err = db2.Get([]byte("key-11"))
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), value)
}

func TestDB_CheckpointRequiresStorage(t *testing.T) {
	db := openMem(t)

	err := db.Checkpoint(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDB_CacheStats(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v")))

	// The write-through cache serves the read back.
	_, err := db.Get([]byte("k"))
	require.NoError(t, err)

	hits, _ := db.CacheStats()
	assert.GreaterOrEqual(t, hits, int64(1))
}

func TestDB_Metrics(t *testing.T) {
	ctx := context.Background()
	mc := &BasicMetricsCollector{}
	db := openMem(t, WithMetricsCollector(mc))

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v")))
	_, err := db.Get([]byte("k"))
	require.NoError(t, err)
	_, err = db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Delete(ctx, []byte("k"))
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.PutCount)
	assert.Equal(t, int64(2), stats.GetCount)
	assert.Equal(t, int64(1), stats.GetErrors)
	assert.Equal(t, int64(1), stats.DeleteCount)
}

func TestBuilder(t *testing.T) {
	ctx := context.Background()

	base := Builder().Shards(4).BatchSize(32)

	// The builder is immutable; deriving a synced variant leaves the base
	// untouched.
	synced := base.Synced()

	db1, err := base.Build(ctx)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := synced.Build(ctx)
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, DurabilityBuffered, db1.Durability())
	assert.Equal(t, DurabilitySynced, db2.Durability())

	require.NoError(t, db1.Put(ctx, []byte("k"), []byte("v")))
	value, err := db1.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
