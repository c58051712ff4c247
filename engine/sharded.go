package engine

import (
	"hash/maphash"
	"sync"
)

// MaxShards bounds the shard count; beyond this the per-shard maps become
// too small to amortize the routing hash.
const MaxShards = 256

// ShardedStore partitions entries across independent shards to enable
// parallel write throughput. This eliminates the global lock bottleneck by
// routing each key to one shard via a seeded maphash.
//
// # Design
//
//   - Each shard is a map with its own read-write lock
//   - Point operations lock a single shard
//   - Clear/Len/Snapshot acquire all shard locks in ascending order, so
//     their observable effect is atomic and lock ordering is deadlock-free
type ShardedStore struct {
	shards []*storeShard
	seed   maphash.Seed
}

type storeShard struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewShardedStore creates a store with numShards independent shards.
// numShards is clamped to [1, MaxShards].
func NewShardedStore(numShards int) *ShardedStore {
	if numShards < 1 {
		numShards = 1
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}

	s := &ShardedStore{
		shards: make([]*storeShard, numShards),
		seed:   maphash.MakeSeed(),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{data: make(map[string]Entry)}
	}
	return s
}

// ShardCount returns the number of shards.
func (s *ShardedStore) ShardCount() int {
	return len(s.shards)
}

// shard returns the shard owning the given key.
func (s *ShardedStore) shard(key []byte) *storeShard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	h := maphash.Bytes(s.seed, key)
	return s.shards[h%uint64(len(s.shards))]
}

// Get returns the entry for key.
func (s *ShardedStore) Get(key []byte) (Entry, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.data[string(key)]
	return e, ok
}

// Set inserts or replaces key with value at the given sequence number.
func (s *ShardedStore) Set(key, value []byte, seq uint64) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.data[string(key)] = Entry{Value: value, Seq: seq}
}

// Delete removes key. Returns true iff the key existed immediately before
// the call.
func (s *ShardedStore) Delete(key []byte, seq uint64) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	k := string(key)
	if _, ok := sh.data[k]; !ok {
		return false
	}
	delete(sh.data, k)
	return true
}

// Exists reports whether key is present.
func (s *ShardedStore) Exists(key []byte) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	_, ok := sh.data[string(key)]
	return ok
}

// Len returns the number of stored entries across all shards.
//
// All shard read locks are held simultaneously so the count is a
// consistent cut, not a racy sum.
func (s *ShardedStore) Len() int {
	s.rlockAll()
	defer s.runlockAll()

	n := 0
	for _, sh := range s.shards {
		n += len(sh.data)
	}
	return n
}

// Clear removes all entries as a single logical operation. Readers that
// started before Clear observe the pre-clear state; readers started after
// observe an empty store.
func (s *ShardedStore) Clear(seq uint64) {
	s.lockAll()
	defer s.unlockAll()

	for _, sh := range s.shards {
		sh.data = make(map[string]Entry)
	}
}

// Snapshot returns a consistent copy of all entries.
func (s *ShardedStore) Snapshot() []KV {
	shards := s.SnapshotShards()

	total := 0
	for _, kvs := range shards {
		total += len(kvs)
	}
	out := make([]KV, 0, total)
	for _, kvs := range shards {
		out = append(out, kvs...)
	}
	return out
}

// SnapshotShards returns a consistent per-shard copy of all entries, used
// by checkpointing to serialize shards in parallel.
func (s *ShardedStore) SnapshotShards() [][]KV {
	s.rlockAll()
	defer s.runlockAll()

	out := make([][]KV, len(s.shards))
	for i, sh := range s.shards {
		kvs := make([]KV, 0, len(sh.data))
		for k, e := range sh.data {
			kvs = append(kvs, KV{Key: []byte(k), Value: e.Value, Seq: e.Seq})
		}
		out[i] = kvs
	}
	return out
}

// Lock ordering: always ascending shard index.

func (s *ShardedStore) lockAll() {
	for _, sh := range s.shards {
		sh.mu.Lock()
	}
}

func (s *ShardedStore) unlockAll() {
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}
}

func (s *ShardedStore) rlockAll() {
	for _, sh := range s.shards {
		sh.mu.RLock()
	}
}

func (s *ShardedStore) runlockAll() {
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.RUnlock()
	}
}
