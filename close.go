package kivo

import "context"

// Close flushes pending writes and releases all resources: the batcher,
// the write-ahead log, and the background worker pool.
//
// Close is idempotent; calling it again returns nil. Operations on a
// closed database fail with ErrAlreadyClosed.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if err := db.batcher.Close(context.Background()); err != nil && firstErr == nil {
		firstErr = translateError(err)
	}
	if err := db.dur.Close(); err != nil && firstErr == nil {
		firstErr = translateError(err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	return firstErr
}
