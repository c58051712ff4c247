package engine

import "errors"

var (
	// ErrClosed is returned when a component is used after Close.
	ErrClosed = errors.New("engine closed")

	// ErrSyncTimeout is returned when a synced durability acknowledgment
	// exceeded its configured bound.
	ErrSyncTimeout = errors.New("sync timeout")

	// ErrBatchDiscarded is returned on tickets of a batch whose flush
	// failed after all retries. The underlying cause can be accessed via
	// errors.Unwrap on the ticket error.
	ErrBatchDiscarded = errors.New("batch discarded")
)
