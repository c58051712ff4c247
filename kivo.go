package kivo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/kivo/blobstore"
	"github.com/hupe1980/kivo/engine"
	"github.com/hupe1980/kivo/resource"
	"github.com/hupe1980/kivo/snapshot"
	"github.com/hupe1980/kivo/wal"
)

const (
	// MaxKeySize is the largest accepted key, in bytes.
	MaxKeySize = 64 << 10

	// MaxValueSize is the largest accepted value, in bytes.
	MaxValueSize = 256 << 20
)

// DB is an embedded key-value store with batched writes, configurable
// durability, and a tiered read cache. All methods are safe for
// concurrent use.
type DB struct {
	store   engine.Store
	cache   *engine.TieredCache
	batcher *engine.Batcher
	dur     *engine.DurabilityController
	wal     *wal.WAL
	blobs   blobstore.BlobStore
	pool    *engine.WorkerPool
	rc      *resource.Controller

	logger   *Logger
	metrics  MetricsCollector
	snapOpts snapshot.Options

	checkpointMu  sync.Mutex
	checkpointing atomic.Bool
	closed        atomic.Bool
}

// Open creates or reopens a database.
//
// With WithPath, existing state is restored from the latest snapshot plus
// the committed tail of the write-ahead log. Without a path the database
// is purely in-memory and Buffered/Synced durability degrades to None
// (reported via EffectiveDurability).
func Open(ctx context.Context, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	if opts.numShards > engine.MaxShards {
		return nil, fmt.Errorf("%w: numShards %d exceeds maximum %d", ErrInvalidArgument, opts.numShards, engine.MaxShards)
	}

	var store engine.Store
	if opts.numShards > 1 {
		store = engine.NewShardedStore(opts.numShards)
	} else {
		store = engine.NewMapStore()
	}

	rc := resource.NewController(opts.resourceConfig)
	pool := engine.NewWorkerPool(int(opts.resourceConfig.MaxBackgroundWorkers))
	cache := engine.NewTieredCache(opts.cacheLevelCapacity, pool, rc, opts.logger.Logger)

	db := &DB{
		store:    store,
		cache:    cache,
		pool:     pool,
		rc:       rc,
		logger:   opts.logger,
		metrics:  opts.metricsCollector,
		snapOpts: opts.snapshotOptions,
	}

	var maxSeq uint64
	if opts.path != "" {
		blobs := opts.blobStore
		if blobs == nil {
			local, err := blobstore.NewLocalStore(opts.path, nil)
			if err != nil {
				pool.Close()
				return nil, err
			}
			blobs = local
		}
		db.blobs = blobs

		restored, snapSeq, err := db.restoreSnapshot(ctx)
		if err != nil {
			pool.Close()
			return nil, err
		}
		maxSeq = snapSeq

		walHandle, err := openWAL(opts)
		if err != nil {
			pool.Close()
			return nil, err
		}
		db.wal = walHandle

		replayed, err := db.replayLog()
		if err != nil {
			_ = walHandle.Close()
			pool.Close()
			db.logger.LogRecovery(ctx, restored, replayed, err)
			return nil, err
		}
		if seq := walHandle.MaxSeq(); seq > maxSeq {
			maxSeq = seq
		}
		db.logger.LogRecovery(ctx, restored, replayed, nil)
	} else if opts.blobStore != nil {
		// Checkpoint target without local persistence.
		db.blobs = opts.blobStore
	}

	var backend engine.Backend
	if db.wal != nil {
		backend = db.wal
	}
	db.dur = engine.NewDurabilityController(opts.durability, backend, opts.syncTimeout)
	if db.dur.Degraded() {
		db.logger.Warn("durability degraded: no storage path configured",
			"requested", db.dur.Requested().String(),
			"effective", db.dur.Effective().String(),
		)
	}

	db.batcher = engine.NewBatcher(store, cache, db.dur, engine.BatcherConfig{
		MaxSize:      opts.batchMaxSize,
		MaxLatency:   opts.batchMaxLatency,
		MaxRetries:   opts.batchMaxRetries,
		RetryBackoff: opts.batchRetryBackoff,
		Logger:       opts.logger.Logger,
	})
	db.batcher.SetSeq(maxSeq)

	if db.wal != nil && db.blobs != nil {
		db.wal.SetCheckpointCallback(db.autoCheckpoint)
	}

	return db, nil
}

// openWAL builds the write-ahead log from the configured durability
// level. Synced mode keeps the WAL itself async; the durability
// controller forces stable storage explicitly so the sync wait can be
// bounded by a timeout.
func openWAL(opts options) (*wal.WAL, error) {
	preset := func(o *wal.Options) {
		o.Path = opts.path
		switch opts.durability {
		case DurabilityBuffered:
			o.SyncMode = wal.SyncModeGroupCommit
		default:
			o.SyncMode = wal.SyncModeAsync
		}
	}
	fns := make([]func(*wal.Options), 0, len(opts.walOptions)+1)
	fns = append(fns, opts.walOptions...)
	fns = append(fns, preset)
	return wal.New(fns...)
}

// restoreSnapshot loads the latest snapshot, if any, into the store.
func (db *DB) restoreSnapshot(ctx context.Context) (int, uint64, error) {
	restored := 0
	maxSeq, err := snapshot.ReadFromStore(ctx, db.blobs, snapshot.BlobName, func(kv engine.KV) error {
		db.store.Set(kv.Key, kv.Value, kv.Seq)
		restored++
		return nil
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, 0, nil
		}
		return restored, 0, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return restored, maxSeq, nil
}

// replayLog applies the committed tail of the write-ahead log.
func (db *DB) replayLog() (int, error) {
	replayed := 0
	err := db.wal.ReplayCommitted(func(rec wal.Record) error {
		switch rec.Type {
		case wal.RecordPut:
			db.store.Set(rec.Key, rec.Value, rec.Seq)
		case wal.RecordDelete:
			db.store.Delete(rec.Key, rec.Seq)
		case wal.RecordClear:
			db.store.Clear(rec.Seq)
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("failed to replay WAL: %w", err)
	}
	return replayed, nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidArgument, MaxKeySize)
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: value exceeds %d bytes", ErrInvalidArgument, MaxValueSize)
	}
	return nil
}

// Put stores a value under key. It returns once the write is acknowledged
// per the configured durability level.
func (db *DB) Put(ctx context.Context, key, value []byte) error {
	start := time.Now()
	err := db.put(ctx, key, value)
	db.metrics.RecordPut(time.Since(start), err)
	db.logger.LogPut(ctx, len(key), len(value), err)
	return err
}

func (db *DB) put(ctx context.Context, key, value []byte) error {
	if db.closed.Load() {
		return ErrAlreadyClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	// Copy both buffers so later caller mutation cannot reach the store.
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)

	ticket, err := db.batcher.Submit(ctx, engine.OpPut, k, v)
	if err != nil {
		return translateError(err)
	}
	return translateError(ticket.Wait(ctx))
}

// Get returns the value stored under key, or ErrNotFound. The returned
// slice is owned by the caller.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	value, hit, err := db.get(key)
	db.metrics.RecordGet(time.Since(start), hit, err)
	return value, err
}

func (db *DB) get(key []byte) ([]byte, bool, error) {
	if db.closed.Load() {
		return nil, false, ErrAlreadyClosed
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	if res, ok := db.cache.Lookup(key); ok {
		// A tombstone is a definitive miss; falling through to the store
		// could resurrect an older version.
		if res.Tombstone {
			return nil, true, ErrNotFound
		}
		return append([]byte(nil), res.Value...), true, nil
	}

	entry, found := db.store.Get(key)
	if !found {
		return nil, false, ErrNotFound
	}
	db.cache.Fill(key, entry.Value, entry.Seq)
	return append([]byte(nil), entry.Value...), false, nil
}

// Delete removes key. It reports whether the key existed, determined
// atomically at apply time.
func (db *DB) Delete(ctx context.Context, key []byte) (bool, error) {
	start := time.Now()
	existed, err := db.delete(ctx, key)
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, len(key), existed, err)
	return existed, err
}

func (db *DB) delete(ctx context.Context, key []byte) (bool, error) {
	if db.closed.Load() {
		return false, ErrAlreadyClosed
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	k := append([]byte(nil), key...)

	ticket, err := db.batcher.Submit(ctx, engine.OpDelete, k, nil)
	if err != nil {
		return false, translateError(err)
	}
	if err := ticket.Wait(ctx); err != nil {
		return false, translateError(err)
	}
	return ticket.Existed(), nil
}

// Exists reports whether key is present.
func (db *DB) Exists(key []byte) (bool, error) {
	if db.closed.Load() {
		return false, ErrAlreadyClosed
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	if res, ok := db.cache.Lookup(key); ok {
		return !res.Tombstone, nil
	}
	return db.store.Exists(key), nil
}

// Len returns the number of live entries. A closed database reports 0.
func (db *DB) Len() int {
	if db.closed.Load() {
		return 0
	}
	return db.store.Len()
}

// IsEmpty reports whether the database holds no entries. A closed
// database reports true.
func (db *DB) IsEmpty() bool {
	if db.closed.Load() {
		return true
	}
	return db.store.Len() == 0
}

// Clear removes all entries as one logical operation. Readers observe
// either the full pre-clear state or an empty store, never a partial
// wipe.
func (db *DB) Clear(ctx context.Context) error {
	if db.closed.Load() {
		return ErrAlreadyClosed
	}

	removed := db.store.Len()
	err := db.clear(ctx)
	db.logger.LogClear(ctx, removed, err)
	return err
}

func (db *DB) clear(ctx context.Context) error {
	// Drain pending batches first so the clear supersedes everything
	// submitted before it.
	if err := db.batcher.Flush(ctx); err != nil {
		return translateError(err)
	}

	release := db.batcher.HoldFlush()
	defer release()

	seq := db.batcher.BumpSeq()
	db.store.Clear(seq)
	db.cache.Clear(seq)

	if err := db.dur.LogClear(seq); err != nil {
		return translateError(err)
	}
	return nil
}

// Flush forces all pending batches through the durability pipeline and
// returns the first flush error, if any.
func (db *DB) Flush(ctx context.Context) error {
	if db.closed.Load() {
		return ErrAlreadyClosed
	}
	err := translateError(db.batcher.Flush(ctx))
	db.logger.LogFlush(ctx, err)
	return err
}

// Checkpoint captures the full store into a snapshot blob and truncates
// the write-ahead log. Requires a storage path or blob store.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.closed.Load() {
		return ErrAlreadyClosed
	}
	if db.blobs == nil {
		return fmt.Errorf("%w: no storage configured for checkpoints", ErrInvalidArgument)
	}

	db.checkpointMu.Lock()
	defer db.checkpointMu.Unlock()

	start := time.Now()
	entries, err := db.checkpoint(ctx)
	db.metrics.RecordCheckpoint(entries, time.Since(start), err)
	db.logger.LogCheckpoint(ctx, entries, err)
	return err
}

func (db *DB) checkpoint(ctx context.Context) (int, error) {
	if err := db.batcher.Flush(ctx); err != nil {
		return 0, translateError(err)
	}

	// Block flushes so no batch commits between state capture and log
	// truncation; such a batch would be erased from the log without being
	// in the snapshot.
	release := db.batcher.HoldFlush()
	defer release()

	shards := snapshotShards(db.store)
	maxSeq := db.batcher.Seq()

	entries := 0
	for _, shard := range shards {
		entries += len(shard)
	}

	if err := snapshot.WriteToStore(ctx, db.blobs, snapshot.BlobName, maxSeq, shards, db.snapOpts); err != nil {
		return entries, translateError(err)
	}

	if db.wal != nil {
		if err := db.wal.Checkpoint(); err != nil {
			return entries, translateError(err)
		}
	}
	return entries, nil
}

// snapshotShards captures per-shard entry slices for parallel encoding.
func snapshotShards(store engine.Store) [][]engine.KV {
	type sharded interface {
		SnapshotShards() [][]engine.KV
	}
	if s, ok := store.(sharded); ok {
		return s.SnapshotShards()
	}
	return [][]engine.KV{store.Snapshot()}
}

// autoCheckpoint runs a checkpoint in the background when a WAL threshold
// fires. It must not block the flush path, which is what triggered it.
func (db *DB) autoCheckpoint() error {
	if !db.checkpointing.CompareAndSwap(false, true) {
		return nil
	}
	engine.GoSafe(db.logger.Logger, func() {
		defer db.checkpointing.Store(false)
		if err := db.Checkpoint(context.Background()); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			db.logger.Error("auto-checkpoint failed", "error", err)
		}
	})
	return nil
}

// Durability returns the durability level requested at open time.
func (db *DB) Durability() DurabilityLevel {
	return db.dur.Requested()
}

// EffectiveDurability returns the durability level actually enforced. It
// differs from Durability only for in-memory databases that requested
// Buffered or Synced.
func (db *DB) EffectiveDurability() DurabilityLevel {
	return db.dur.Effective()
}

// CacheStats returns read cache hit/miss counters.
func (db *DB) CacheStats() (hits, misses int64) {
	return db.cache.Stats()
}
