package engine

import (
	"sync"
)

// MapStore is an in-memory implementation of Store using a Go map behind a
// read-write lock. It is the building block for ShardedStore and can be
// used directly for low-contention workloads.
type MapStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewMapStore creates a new in-memory map-based store.
func NewMapStore() *MapStore {
	return &MapStore{
		data: make(map[string]Entry),
	}
}

// Get returns the entry for key.
func (m *MapStore) Get(key []byte) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[string(key)]
	return e, ok
}

// Set inserts or replaces key with value at the given sequence number.
func (m *MapStore) Set(key, value []byte, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[string(key)] = Entry{Value: value, Seq: seq}
}

// Delete removes key. Returns true iff the key existed immediately before
// the call.
func (m *MapStore) Delete(key []byte, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	if _, ok := m.data[k]; !ok {
		return false
	}
	delete(m.data, k)
	return true
}

// Exists reports whether key is present.
func (m *MapStore) Exists(key []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[string(key)]
	return ok
}

// Len returns the number of stored entries.
func (m *MapStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// Clear removes all entries.
func (m *MapStore) Clear(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]Entry)
}

// Snapshot returns a consistent copy of all entries.
func (m *MapStore) Snapshot() []KV {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshotLocked()
}

// snapshotLocked copies all entries. Caller must hold at least a read lock.
func (m *MapStore) snapshotLocked() []KV {
	out := make([]KV, 0, len(m.data))
	for k, e := range m.data {
		out = append(out, KV{Key: []byte(k), Value: e.Value, Seq: e.Seq})
	}
	return out
}
