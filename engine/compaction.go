package engine

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// maybeCompact schedules a compaction pass if one is not already running.
// The pass runs on the worker pool when one is configured, otherwise on a
// panic-guarded goroutine.
func (c *TieredCache) maybeCompact() {
	if !c.compacting.CompareAndSwap(false, true) {
		return
	}

	task := func() {
		defer c.compacting.Store(false)
		c.compact()
	}

	if c.pool != nil && c.pool.TrySubmit(task) {
		return
	}
	GoSafe(c.logger, task)
}

// levelCapacity is the entry budget for frozen level depth (0 = newest).
// Capacities grow geometrically, the classic LSM shape.
func (c *TieredCache) levelCapacity(depth int) int {
	return c.levelCap << uint(depth+1)
}

// compact merges overflowing frozen levels into their next-deeper level
// until every level fits its budget. Merge work happens on immutable
// inputs outside the cache lock; only the slice swap is exclusive, so
// concurrent reads of unaffected levels are never blocked.
func (c *TieredCache) compact() {
	ctx := context.Background()

	if err := c.rc.AcquireWorker(ctx); err != nil {
		return
	}
	defer c.rc.ReleaseWorker()

	for {
		c.mu.RLock()
		idx := -1
		for i, lvl := range c.frozen {
			if len(lvl.entries) <= c.levelCapacity(i) {
				continue
			}
			// The deepest level can only shrink by dropping tombstones;
			// without any, re-merging it would never terminate.
			if i == len(c.frozen)-1 && lvl.tombstones == 0 {
				continue
			}
			idx = i
			break
		}
		var src, dst *cacheLevel
		if idx >= 0 {
			src = c.frozen[idx]
			if idx+1 < len(c.frozen) {
				dst = c.frozen[idx+1]
			}
		}
		c.mu.RUnlock()

		if idx < 0 {
			return
		}

		merged := c.merge(src, dst, dst == nil)

		// Throttle by merged volume so sustained compaction cannot starve
		// foreground IO.
		_ = c.rc.WaitIO(ctx, int(merged.bytes))

		c.mu.Lock()
		// The slice may have grown at the front since the scan; relocate
		// the merged inputs by identity before splicing.
		pos := -1
		for i, lvl := range c.frozen {
			if lvl == src {
				pos = i
				break
			}
		}
		if pos < 0 {
			c.mu.Unlock()
			continue
		}
		end := pos + 1
		if dst != nil && end < len(c.frozen) && c.frozen[end] == dst {
			end++
		}
		for _, lvl := range c.frozen[pos:end] {
			c.rc.ReleaseMemory(lvl.bytes)
		}
		next := make([]*cacheLevel, 0, len(c.frozen)-(end-pos)+1)
		next = append(next, c.frozen[:pos]...)
		next = append(next, merged)
		next = append(next, c.frozen[end:]...)
		c.rc.AddMemory(merged.bytes)
		c.frozen = next
		c.mu.Unlock()

		c.logger.Debug("cache level compacted",
			"depth", pos,
			"entries", len(merged.entries),
			"bytes", merged.bytes,
		)
	}
}

// merge combines a newer level into an older one, keeping only the
// highest-sequence version of each key. When the result is the deepest
// level, tombstones are eliminated: no older version can exist below.
func (c *TieredCache) merge(newer, older *cacheLevel, deepest bool) *cacheLevel {
	size := len(newer.entries)
	if older != nil {
		size += len(older.entries)
	}
	entries := make(map[string]cacheEntry, size)

	if older != nil {
		for k, e := range older.entries {
			entries[k] = e
		}
	}
	for k, e := range newer.entries {
		if prev, ok := entries[k]; ok && prev.seq > e.seq {
			continue
		}
		entries[k] = e
	}

	if deepest {
		for k, e := range entries {
			if e.tombstone {
				delete(entries, k)
			}
		}
	}

	filter := roaring.New()
	var bytes int64
	tombstones := 0
	for k, e := range entries {
		filter.Add(c.keyHash(k))
		bytes += entryBytes(k, e)
		if e.tombstone {
			tombstones++
		}
	}

	return &cacheLevel{entries: entries, filter: filter, bytes: bytes, tombstones: tombstones}
}
