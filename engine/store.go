package engine

// Store is the authoritative in-memory mapping from key to value.
//
// Implementations must be safe for concurrent use. Reads may proceed
// concurrently with each other; a reader never observes a partially
// applied write. Clear and Len are atomic in their observable effect even
// for sharded implementations.
type Store interface {
	// Get returns the entry for key.
	Get(key []byte) (Entry, bool)

	// Set inserts or replaces key with value at the given sequence number.
	Set(key, value []byte, seq uint64)

	// Delete removes key. Returns true iff the key existed immediately
	// before the call.
	Delete(key []byte, seq uint64) bool

	// Exists reports whether key is present.
	Exists(key []byte) bool

	// Len returns the number of stored entries.
	Len() int

	// Clear removes all entries as a single logical operation.
	Clear(seq uint64)

	// Snapshot returns a consistent copy of all entries.
	Snapshot() []KV
}
