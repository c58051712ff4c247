package engine

import (
	"hash/maphash"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kivo/resource"
)

// CacheResult is a read-cache hit: the cached value together with the
// sequence number of the mutation that produced it.
type CacheResult struct {
	Value     []byte
	Seq       uint64
	Tombstone bool
}

type cacheEntry struct {
	value     []byte
	seq       uint64
	tombstone bool
}

// cacheLevel is an immutable snapshot of entries. The filter is a roaring
// bitmap over 32-bit key hashes; a negative filter probe skips the level
// without touching its map. Levels are never mutated after freezing, so
// lookups read them without locks once the level slice is snapshotted.
type cacheLevel struct {
	entries    map[string]cacheEntry
	filter     *roaring.Bitmap
	bytes      int64
	tombstones int
}

// TieredCache is an LSM-style multi-level read cache.
//
// Mutations populate the mutable level 0 write-through, so a completed
// acknowledged write is always visible to the next lookup (zero
// staleness). When level 0 exceeds its capacity it freezes into an
// immutable level; overflowing immutable levels merge into the next level
// during compaction, keeping only the highest-sequence version of each
// key and eliminating tombstones at the deepest level.
//
// Lookups check the newest level first and short-circuit on the first
// hit, so a hit can never be shadowed by a newer version elsewhere.
type TieredCache struct {
	mu     sync.RWMutex
	active map[string]cacheEntry
	frozen []*cacheLevel // newest first

	activeBytes int64
	levelCap    int
	floor       uint64 // sequence of the last clear; fills at or below it are stale
	seed        maphash.Seed

	rc     *resource.Controller
	pool   *WorkerPool
	logger *slog.Logger

	compacting atomic.Bool
	hits       atomic.Int64
	misses     atomic.Int64
}

// DefaultCacheLevelCapacity is the entry count at which level 0 freezes.
const DefaultCacheLevelCapacity = 4096

// NewTieredCache creates a tiered cache. levelCap is the capacity of the
// mutable level; deeper levels grow geometrically. pool and rc may be nil.
func NewTieredCache(levelCap int, pool *WorkerPool, rc *resource.Controller, logger *slog.Logger) *TieredCache {
	if levelCap <= 0 {
		levelCap = DefaultCacheLevelCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{
		active:   make(map[string]cacheEntry, levelCap),
		levelCap: levelCap,
		seed:     maphash.MakeSeed(),
		rc:       rc,
		pool:     pool,
		logger:   logger,
	}
}

func (c *TieredCache) keyHash(key string) uint32 {
	return uint32(maphash.String(c.seed, key))
}

// Put populates the cache with a freshly applied mutation.
func (c *TieredCache) Put(key, value []byte, seq uint64) {
	c.insert(string(key), cacheEntry{value: value, seq: seq})
}

// Delete records a tombstone for key. The tombstone shadows older cached
// versions in deeper levels until compaction eliminates both.
func (c *TieredCache) Delete(key []byte, seq uint64) {
	c.insert(string(key), cacheEntry{seq: seq, tombstone: true})
}

func (c *TieredCache) insert(key string, e cacheEntry) {
	c.mu.Lock()
	freeze := c.insertLocked(key, e)
	c.mu.Unlock()

	if freeze {
		c.maybeCompact()
	}
}

// insertLocked adds an entry to the active level, freezing it when full.
// Caller must hold c.mu; the returned flag asks for a compaction check.
func (c *TieredCache) insertLocked(key string, e cacheEntry) bool {
	old, had := c.active[key]
	c.active[key] = e
	if had {
		c.activeBytes -= entryBytes(key, old)
	}
	c.activeBytes += entryBytes(key, e)
	if len(c.active) >= c.levelCap {
		c.freezeLocked()
		return true
	}
	return false
}

// freezeLocked turns the active level into an immutable level with a
// presence filter. Caller must hold c.mu.
func (c *TieredCache) freezeLocked() {
	filter := roaring.New()
	tombstones := 0
	for k, e := range c.active {
		filter.Add(c.keyHash(k))
		if e.tombstone {
			tombstones++
		}
	}

	lvl := &cacheLevel{
		entries:    c.active,
		filter:     filter,
		bytes:      c.activeBytes,
		tombstones: tombstones,
	}
	c.frozen = append([]*cacheLevel{lvl}, c.frozen...)
	c.rc.AddMemory(lvl.bytes)

	c.active = make(map[string]cacheEntry, c.levelCap)
	c.activeBytes = 0
}

// Fill populates the cache from a read miss. Unlike Put it refuses to
// shadow a cached version with a higher sequence number, so a slow reader
// can never mask a write that completed after its store lookup. Entries
// at or below the last clear's sequence are refused for the same reason:
// the clear superseded them.
func (c *TieredCache) Fill(key, value []byte, seq uint64) {
	k := string(key)
	h := c.keyHash(k)

	c.mu.Lock()
	if seq <= c.floor {
		c.mu.Unlock()
		return
	}
	if e, found := c.active[k]; found && e.seq >= seq {
		c.mu.Unlock()
		return
	}
	for _, lvl := range c.frozen {
		if !lvl.filter.Contains(h) {
			continue
		}
		if e, found := lvl.entries[k]; found {
			if e.seq >= seq {
				c.mu.Unlock()
				return
			}
			break
		}
	}
	freeze := c.insertLocked(k, cacheEntry{value: value, seq: seq})
	c.mu.Unlock()

	if freeze {
		c.maybeCompact()
	}
}

// Lookup returns the cached entry for key, newest level first.
//
// A returned tombstone means the key is definitively deleted at the
// result's sequence number; the caller must not fall through to a slower
// tier. ok is false only on a complete miss.
func (c *TieredCache) Lookup(key []byte) (CacheResult, bool) {
	k := string(key)

	c.mu.RLock()
	if e, found := c.active[k]; found {
		c.mu.RUnlock()
		c.hits.Add(1)
		return CacheResult{Value: e.value, Seq: e.seq, Tombstone: e.tombstone}, true
	}
	levels := c.frozen
	c.mu.RUnlock()

	// Frozen levels are immutable; no lock needed past the slice snapshot.
	h := c.keyHash(k)
	for _, lvl := range levels {
		if !lvl.filter.Contains(h) {
			continue
		}
		if e, found := lvl.entries[k]; found {
			c.hits.Add(1)
			return CacheResult{Value: e.value, Seq: e.seq, Tombstone: e.tombstone}, true
		}
	}

	c.misses.Add(1)
	return CacheResult{}, false
}

// Clear drops all levels and records seq as the fill floor, so a reader
// that fetched from the store before the clear cannot resurrect its stale
// result afterward.
func (c *TieredCache) Clear(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, lvl := range c.frozen {
		c.rc.ReleaseMemory(lvl.bytes)
	}
	c.frozen = nil
	c.active = make(map[string]cacheEntry, c.levelCap)
	c.activeBytes = 0
	if seq > c.floor {
		c.floor = seq
	}
}

// Len returns the total number of cached entries including tombstones.
func (c *TieredCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.active)
	for _, lvl := range c.frozen {
		n += len(lvl.entries)
	}
	return n
}

// Levels returns the number of levels including the mutable level.
func (c *TieredCache) Levels() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return 1 + len(c.frozen)
}

// Stats returns hit/miss counters.
func (c *TieredCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func entryBytes(key string, e cacheEntry) int64 {
	return int64(len(key) + len(e.value) + 16)
}
