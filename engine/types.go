package engine

// Op is the kind of a mutation.
type Op uint8

const (
	// OpPut inserts or replaces a key.
	OpPut Op = iota + 1
	// OpDelete removes a key.
	OpDelete
)

// Mutation is a single pending change to the entry store. Sequence numbers
// are assigned by the Batcher at submission time and are strictly
// increasing for the lifetime of a database instance.
type Mutation struct {
	Op    Op
	Key   []byte
	Value []byte
	Seq   uint64

	// existed is filled in during apply for OpDelete.
	existed bool
}

// Entry is a stored value together with the sequence number of the
// mutation that produced it.
type Entry struct {
	Value []byte
	Seq   uint64
}

// KV is a key/value pair captured by a store snapshot.
type KV struct {
	Key   []byte
	Value []byte
	Seq   uint64
}
