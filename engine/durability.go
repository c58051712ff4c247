package engine

import (
	"fmt"
	"time"
)

// DurabilityLevel controls when a write acknowledgment may be returned
// relative to batch flush. It is fixed at database-open time.
type DurabilityLevel uint8

const (
	// DurabilityNone acknowledges immediately on batch acceptance into the
	// entry store, before any persistence step. Weakest guarantee, fastest.
	DurabilityNone DurabilityLevel = iota

	// DurabilityBuffered acknowledges after the batch is written to the
	// write-ahead log buffer but before that buffer is forced to stable
	// storage. Survives process continuation but not crash.
	DurabilityBuffered

	// DurabilitySynced acknowledges only after the write-ahead log is
	// forced to stable storage. Survives crash.
	DurabilitySynced
)

func (l DurabilityLevel) String() string {
	switch l {
	case DurabilityNone:
		return "none"
	case DurabilityBuffered:
		return "buffered"
	case DurabilitySynced:
		return "synced"
	default:
		return fmt.Sprintf("durability(%d)", uint8(l))
	}
}

// Backend abstracts the persistence mechanism the durability controller
// acknowledges against.
//
// When backed by a WAL, AppendBatch persists intent and Sync forces the
// log to stable storage. When persistence is disabled, NoopBackend keeps
// the exact same acknowledgment pipeline without disk IO.
//
// A *wal.WAL satisfies this interface.
type Backend interface {
	AppendBatch(muts []*Mutation) error
	Sync() error
	LogClear(seq uint64) error
	Close() error
}

// NoopBackend implements Backend with no persistence.
//
// Using this keeps the exact same batching and acknowledgment pipeline as
// WAL-backed mode, but without any disk IO.
type NoopBackend struct{}

func (NoopBackend) AppendBatch([]*Mutation) error { return nil }
func (NoopBackend) Sync() error                   { return nil }
func (NoopBackend) LogClear(uint64) error         { return nil }
func (NoopBackend) Close() error                  { return nil }

// DefaultSyncTimeout bounds how long a synced acknowledgment may block.
const DefaultSyncTimeout = 10 * time.Second

// DurabilityController enforces the configured durability level before a
// batch is acknowledged.
type DurabilityController struct {
	requested DurabilityLevel
	effective DurabilityLevel
	backend   Backend

	syncTimeout time.Duration
}

// NewDurabilityController creates a controller for the requested level.
//
// If backend is nil there is no persistence mechanism; Buffered and Synced
// then degrade to None semantics. The requested level is still accepted:
// degradation is reported via Degraded(), never silently approximated.
func NewDurabilityController(level DurabilityLevel, backend Backend, syncTimeout time.Duration) *DurabilityController {
	effective := level
	if backend == nil {
		backend = NoopBackend{}
		effective = DurabilityNone
	}
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}

	return &DurabilityController{
		requested:   level,
		effective:   effective,
		backend:     backend,
		syncTimeout: syncTimeout,
	}
}

// Requested returns the level configured at open time.
func (c *DurabilityController) Requested() DurabilityLevel { return c.requested }

// Effective returns the level actually enforced. It differs from
// Requested only when no persistence backend is available.
func (c *DurabilityController) Effective() DurabilityLevel { return c.effective }

// Degraded reports whether the requested level could not be honored.
func (c *DurabilityController) Degraded() bool { return c.effective != c.requested }

// CommitBatch makes a batch durable according to the effective level and
// returns once the batch may be acknowledged.
//
// For Synced the stable-storage force is bounded by the configured sync
// timeout; on expiry ErrSyncTimeout is returned instead of blocking
// indefinitely.
func (c *DurabilityController) CommitBatch(muts []*Mutation) error {
	if err := c.backend.AppendBatch(muts); err != nil {
		return fmt.Errorf("append batch: %w", err)
	}

	if c.effective != DurabilitySynced {
		return nil
	}
	return c.syncWithTimeout()
}

// LogClear records a clear operation in the backend.
func (c *DurabilityController) LogClear(seq uint64) error {
	if err := c.backend.LogClear(seq); err != nil {
		return fmt.Errorf("log clear: %w", err)
	}
	if c.effective == DurabilitySynced {
		return c.syncWithTimeout()
	}
	return nil
}

func (c *DurabilityController) syncWithTimeout() error {
	// fsync cannot be interrupted; bound the wait, not the call. A late
	// completion is drained by the buffered channel.
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.backend.Sync()
	}()

	timer := time.NewTimer(c.syncTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		return nil
	case <-timer.C:
		return ErrSyncTimeout
	}
}

// Close releases the backend.
func (c *DurabilityController) Close() error {
	return c.backend.Close()
}
