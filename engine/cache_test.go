package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredCache_WriteThrough(t *testing.T) {
	c := NewTieredCache(16, nil, nil, nil)

	c.Put([]byte("k"), []byte("v1"), 1)

	res, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), res.Value)
	assert.Equal(t, uint64(1), res.Seq)
	assert.False(t, res.Tombstone)

	// Newer version replaces in place.
	c.Put([]byte("k"), []byte("v2"), 2)
	res, ok = c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), res.Value)

	_, ok = c.Lookup([]byte("missing"))
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestTieredCache_Tombstone(t *testing.T) {
	c := NewTieredCache(16, nil, nil, nil)

	c.Put([]byte("k"), []byte("v"), 1)
	c.Delete([]byte("k"), 2)

	// A tombstone is a hit, not a miss; the caller must not fall through.
	res, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.True(t, res.Tombstone)
	assert.Equal(t, uint64(2), res.Seq)
}

func TestTieredCache_FreezeKeepsEntriesVisible(t *testing.T) {
	c := NewTieredCache(4, nil, nil, nil)

	for i := 0; i < 10; i++ {
		c.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("val-%02d", i)), uint64(i)+1)
	}

	assert.Greater(t, c.Levels(), 1)

	// Every entry stays visible across the freeze boundary.
	for i := 0; i < 10; i++ {
		res, ok := c.Lookup([]byte(fmt.Sprintf("key-%02d", i)))
		require.True(t, ok, "key-%02d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%02d", i)), res.Value)
	}
}

func TestTieredCache_NewestLevelWins(t *testing.T) {
	c := NewTieredCache(4, nil, nil, nil)

	// Push the first version of "hot" into a frozen level.
	c.Put([]byte("hot"), []byte("old"), 1)
	for i := 0; i < 4; i++ {
		c.Put([]byte(fmt.Sprintf("fill-%d", i)), []byte("x"), uint64(i)+2)
	}
	require.Greater(t, c.Levels(), 1)

	// A newer version in the mutable level shadows the frozen one.
	c.Put([]byte("hot"), []byte("new"), 10)

	res, ok := c.Lookup([]byte("hot"))
	require.True(t, ok)
	assert.Equal(t, []byte("new"), res.Value)
	assert.Equal(t, uint64(10), res.Seq)
}

func TestTieredCache_FillNeverShadowsNewerVersion(t *testing.T) {
	c := NewTieredCache(16, nil, nil, nil)

	c.Put([]byte("k"), []byte("new"), 10)

	// A read-fill carrying a stale store result must not mask the write.
	c.Fill([]byte("k"), []byte("stale"), 5)

	res, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("new"), res.Value)
	assert.Equal(t, uint64(10), res.Seq)
}

func TestTieredCache_FillChecksFrozenLevels(t *testing.T) {
	c := NewTieredCache(4, nil, nil, nil)

	// Freeze a level containing the newer version.
	c.Put([]byte("k"), []byte("new"), 10)
	for i := 0; i < 4; i++ {
		c.Put([]byte(fmt.Sprintf("fill-%d", i)), []byte("x"), uint64(i)+11)
	}
	require.Greater(t, c.Levels(), 1)

	c.Fill([]byte("k"), []byte("stale"), 5)

	res, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("new"), res.Value)
}

func TestTieredCache_FillPopulatesOnMiss(t *testing.T) {
	c := NewTieredCache(16, nil, nil, nil)

	c.Fill([]byte("k"), []byte("v"), 3)

	res, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), res.Value)
	assert.Equal(t, uint64(3), res.Seq)
}

func TestTieredCache_Clear(t *testing.T) {
	c := NewTieredCache(4, nil, nil, nil)

	for i := 0; i < 10; i++ {
		c.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte("v"), uint64(i)+1)
	}
	require.NotZero(t, c.Len())

	c.Clear(11)
	assert.Zero(t, c.Len())
	assert.Equal(t, 1, c.Levels())
	_, ok := c.Lookup([]byte("key-00"))
	assert.False(t, ok)
}

func TestTieredCache_ClearBlocksStaleFills(t *testing.T) {
	c := NewTieredCache(16, nil, nil, nil)

	c.Put([]byte("k"), []byte("v"), 5)
	c.Clear(6)

	// A reader that fetched from the store just before the clear must not
	// resurrect its result afterward.
	c.Fill([]byte("k"), []byte("v"), 5)
	_, ok := c.Lookup([]byte("k"))
	assert.False(t, ok)

	// Fills and writes sequenced after the clear are unaffected.
	c.Fill([]byte("k2"), []byte("v2"), 7)
	res, ok := c.Lookup([]byte("k2"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), res.Value)

	c.Put([]byte("k"), []byte("post"), 8)
	res, ok = c.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("post"), res.Value)
}

func TestTieredCache_MergeKeepsHighestSeq(t *testing.T) {
	c := NewTieredCache(8, nil, nil, nil)

	older := buildLevel(c, map[string]cacheEntry{
		"a": {value: []byte("a-old"), seq: 1},
		"b": {value: []byte("b-old"), seq: 2},
		"c": {value: []byte("c"), seq: 3},
	})
	newer := buildLevel(c, map[string]cacheEntry{
		"a": {value: []byte("a-new"), seq: 5},
		"b": {seq: 6, tombstone: true},
		"d": {value: []byte("d"), seq: 7},
	})

	merged := c.merge(newer, older, false)

	require.Len(t, merged.entries, 4)
	assert.Equal(t, []byte("a-new"), merged.entries["a"].value)
	assert.True(t, merged.entries["b"].tombstone)
	assert.Equal(t, []byte("c"), merged.entries["c"].value)
	assert.Equal(t, 1, merged.tombstones)

	// The filter covers every surviving key.
	for k := range merged.entries {
		assert.True(t, merged.filter.Contains(c.keyHash(k)))
	}
}

func TestTieredCache_MergeDropsTombstonesAtDeepestLevel(t *testing.T) {
	c := NewTieredCache(8, nil, nil, nil)

	older := buildLevel(c, map[string]cacheEntry{
		"a": {value: []byte("a"), seq: 1},
		"b": {value: []byte("b"), seq: 2},
	})
	newer := buildLevel(c, map[string]cacheEntry{
		"b": {seq: 5, tombstone: true},
	})

	merged := c.merge(newer, older, true)

	require.Len(t, merged.entries, 1)
	assert.Contains(t, merged.entries, "a")
	assert.Zero(t, merged.tombstones)
}

// buildLevel constructs an immutable level from explicit entries.
func buildLevel(c *TieredCache, entries map[string]cacheEntry) *cacheLevel {
	lvl := &cacheLevel{entries: entries, filter: roaring.New()}
	for k, e := range entries {
		lvl.filter.Add(c.keyHash(k))
		lvl.bytes += entryBytes(k, e)
		if e.tombstone {
			lvl.tombstones++
		}
	}
	return lvl
}

func TestTieredCache_CompactionPreservesLatestVersions(t *testing.T) {
	c := NewTieredCache(4, nil, nil, nil)

	// Enough churn to trigger several freezes and background compactions.
	for round := 0; round < 5; round++ {
		for i := 0; i < 20; i++ {
			key := []byte(fmt.Sprintf("key-%02d", i))
			val := []byte(fmt.Sprintf("val-%02d-r%d", i, round))
			c.Put(key, val, uint64(round*20+i)+1)
		}
	}

	// Compaction is asynchronous; correctness must hold throughout and
	// after it settles.
	require.Eventually(t, func() bool {
		return !c.compacting.Load()
	}, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 20; i++ {
		res, ok := c.Lookup([]byte(fmt.Sprintf("key-%02d", i)))
		require.True(t, ok, "key-%02d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%02d-r4", i)), res.Value)
	}
}
