package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedStore_PointOps(t *testing.T) {
	st := NewShardedStore(8)
	require.Equal(t, 8, st.ShardCount())

	st.Set([]byte("alpha"), []byte("a"), 1)
	st.Set([]byte("beta"), []byte("b"), 2)

	e, ok := st.Get([]byte("alpha"))
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e.Value)
	assert.Equal(t, uint64(1), e.Seq)

	assert.True(t, st.Exists([]byte("beta")))
	assert.False(t, st.Exists([]byte("gamma")))

	assert.True(t, st.Delete([]byte("alpha"), 3))
	assert.False(t, st.Delete([]byte("alpha"), 4))
	_, ok = st.Get([]byte("alpha"))
	assert.False(t, ok)
}

func TestShardedStore_ClampsShardCount(t *testing.T) {
	assert.Equal(t, 1, NewShardedStore(0).ShardCount())
	assert.Equal(t, 1, NewShardedStore(-5).ShardCount())
	assert.Equal(t, MaxShards, NewShardedStore(MaxShards+100).ShardCount())
}

func TestShardedStore_LenAndClear(t *testing.T) {
	st := NewShardedStore(4)
	for i := 0; i < 50; i++ {
		st.Set([]byte(fmt.Sprintf("key-%03d", i)), []byte("v"), uint64(i)+1)
	}
	require.Equal(t, 50, st.Len())

	st.Clear(51)
	assert.Equal(t, 0, st.Len())
	assert.False(t, st.Exists([]byte("key-000")))
}

func TestShardedStore_Snapshot(t *testing.T) {
	st := NewShardedStore(4)
	for i := 0; i < 20; i++ {
		st.Set([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i)), uint64(i)+1)
	}

	kvs := st.Snapshot()
	require.Len(t, kvs, 20)

	seen := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		seen[string(kv.Key)] = string(kv.Value)
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("val-%03d", i), seen[fmt.Sprintf("key-%03d", i)])
	}

	// Per-shard capture covers every entry exactly once.
	shards := st.SnapshotShards()
	require.Len(t, shards, 4)
	total := 0
	for _, shard := range shards {
		total += len(shard)
	}
	assert.Equal(t, 20, total)
}

func TestShardedStore_ConcurrentWriters(t *testing.T) {
	st := NewShardedStore(8)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("w%d-k%03d", w, i))
				st.Set(key, []byte("v"), uint64(w*100+i)+1)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 800, st.Len())
}
