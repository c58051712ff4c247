package handle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kivo"
)

// Handle is an opaque reference to one open database instance.
type Handle uint64

// InvalidHandle is never issued by Open.
const InvalidHandle Handle = 0

// entry pairs a database with its last recorded error message.
type entry struct {
	db *kivo.DB

	errMu   sync.Mutex
	lastErr string
}

func (e *entry) record(err error) Code {
	code := codeFromError(err)
	e.errMu.Lock()
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	e.errMu.Unlock()
	return code
}

// registry is the process-wide table of live handles. Handle values are
// issued from a monotonically increasing counter and never reused, so a
// handle surviving its Close cannot alias a later database.
type registry struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	next    atomic.Uint64
}

var global = &registry{
	entries: make(map[Handle]*entry),
}

func (r *registry) add(db *kivo.DB) Handle {
	h := Handle(r.next.Add(1))
	r.mu.Lock()
	r.entries[h] = &entry{db: db}
	r.mu.Unlock()
	return h
}

func (r *registry) get(h Handle) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	return e, ok
}

func (r *registry) remove(h Handle) (*entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()
	return e, ok
}

// Open creates a database and registers it, returning its handle. path
// may be empty for an in-memory database; further configuration goes
// through the same options the Go API uses.
func Open(ctx context.Context, path string, optFns ...kivo.Option) (Handle, Code) {
	opts := optFns
	if path != "" {
		opts = append([]kivo.Option{kivo.WithPath(path)}, optFns...)
	}

	db, err := kivo.Open(ctx, opts...)
	if err != nil {
		return InvalidHandle, codeFromError(err)
	}
	return global.add(db), CodeOK
}

// Close closes a handle and removes it from the registry. Close is
// idempotent at the boundary: a second close of the same handle returns
// CodeAlreadyClosed without faulting.
func Close(h Handle) Code {
	e, ok := global.remove(h)
	if !ok {
		return CodeAlreadyClosed
	}
	return codeFromError(e.db.Close())
}

// Put stores value under key.
func Put(ctx context.Context, h Handle, key, value []byte) Code {
	e, ok := global.get(h)
	if !ok {
		return CodeAlreadyClosed
	}
	return e.record(e.db.Put(ctx, key, value))
}

// Get returns the value stored under key. The returned slice is freshly
// allocated and owned by the caller; a missing key returns CodeNotFound
// and a nil slice.
func Get(h Handle, key []byte) ([]byte, Code) {
	e, ok := global.get(h)
	if !ok {
		return nil, CodeAlreadyClosed
	}
	value, err := e.db.Get(key)
	return value, e.record(err)
}

// Delete removes key, reporting whether it existed.
func Delete(ctx context.Context, h Handle, key []byte) (bool, Code) {
	e, ok := global.get(h)
	if !ok {
		return false, CodeAlreadyClosed
	}
	existed, err := e.db.Delete(ctx, key)
	return existed, e.record(err)
}

// Exists reports whether key is present.
func Exists(h Handle, key []byte) (bool, Code) {
	e, ok := global.get(h)
	if !ok {
		return false, CodeAlreadyClosed
	}
	found, err := e.db.Exists(key)
	return found, e.record(err)
}

// Clear removes all entries.
func Clear(ctx context.Context, h Handle) Code {
	e, ok := global.get(h)
	if !ok {
		return CodeAlreadyClosed
	}
	return e.record(e.db.Clear(ctx))
}

// Len returns the number of live entries.
func Len(h Handle) (int, Code) {
	e, ok := global.get(h)
	if !ok {
		return 0, CodeAlreadyClosed
	}
	return e.db.Len(), CodeOK
}

// IsEmpty reports whether the database holds no entries.
func IsEmpty(h Handle) (bool, Code) {
	e, ok := global.get(h)
	if !ok {
		return false, CodeAlreadyClosed
	}
	return e.db.IsEmpty(), CodeOK
}

// Flush forces pending batches through the durability pipeline.
func Flush(ctx context.Context, h Handle) Code {
	e, ok := global.get(h)
	if !ok {
		return CodeAlreadyClosed
	}
	return e.record(e.db.Flush(ctx))
}

// LastError returns the message of the most recent failed operation on
// this handle, or "" if the last operation succeeded. The message is a
// copy; the caller owns it.
func LastError(h Handle) string {
	e, ok := global.get(h)
	if !ok {
		return ""
	}
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}
