package kivo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/kivo/blobstore"
	"github.com/hupe1980/kivo/engine"
	"github.com/hupe1980/kivo/resource"
	"github.com/hupe1980/kivo/snapshot"
	"github.com/hupe1980/kivo/wal"
)

// DurabilityLevel controls when a write acknowledgment may be returned.
// It is fixed at open time.
type DurabilityLevel = engine.DurabilityLevel

const (
	// DurabilityNone acknowledges on batch acceptance, before persistence.
	DurabilityNone = engine.DurabilityNone
	// DurabilityBuffered acknowledges after the write-ahead log buffer
	// accepted the batch, before it was forced to stable storage.
	DurabilityBuffered = engine.DurabilityBuffered
	// DurabilitySynced acknowledges only after stable-storage force.
	DurabilitySynced = engine.DurabilitySynced
)

type options struct {
	durability         DurabilityLevel
	path               string
	numShards          int
	batchMaxSize       int
	batchMaxLatency    time.Duration
	batchMaxRetries    int
	batchRetryBackoff  time.Duration
	cacheLevelCapacity int
	syncTimeout        time.Duration
	walOptions         []func(*wal.Options)
	snapshotOptions    snapshot.Options
	blobStore          blobstore.BlobStore
	resourceConfig     resource.Config
	metricsCollector   MetricsCollector
	logger             *Logger
}

// Option configures database open behavior.
type Option func(*options)

// WithDurability sets the durability level for write acknowledgments.
// The level is fixed for the lifetime of the database instance.
//
// With no storage path the engine cannot persist anything; Buffered and
// Synced are then accepted but degrade to None semantics. The degradation
// is logged on open and reported by EffectiveDurability, never silently
// approximated.
func WithDurability(level DurabilityLevel) Option {
	return func(o *options) {
		o.durability = level
	}
}

// WithPath sets the storage directory for the write-ahead log and
// snapshots. Without a path the database is purely in-memory.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithNumShards configures the number of entry store shards for parallel
// write throughput.
//
// Sharding partitions keys across independent locks, so concurrent
// writers on different shards never contend. Cross-shard operations
// (clear, len) still act atomically by taking all shard locks in a fixed
// order.
//
// If numShards <= 1, sharding is disabled.
func WithNumShards(numShards int) Option {
	return func(o *options) {
		o.numShards = numShards
	}
}

// WithBatchMaxSize sets the mutation count at which a batch is closed and
// handed to the flusher.
func WithBatchMaxSize(n int) Option {
	return func(o *options) {
		o.batchMaxSize = n
	}
}

// WithBatchMaxLatency bounds how long a non-empty batch may stay open
// before it is flushed, even when below the size threshold.
func WithBatchMaxLatency(d time.Duration) Option {
	return func(o *options) {
		o.batchMaxLatency = d
	}
}

// WithBatchRetry configures flush retry behavior: up to maxRetries
// attempts after the first, with exponential backoff starting at backoff.
func WithBatchRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *options) {
		o.batchMaxRetries = maxRetries
		o.batchRetryBackoff = backoff
	}
}

// WithCacheLevelCapacity sets the entry capacity of the read cache's
// mutable level. Deeper levels grow geometrically from this value.
func WithCacheLevelCapacity(n int) Option {
	return func(o *options) {
		o.cacheLevelCapacity = n
	}
}

// WithSyncTimeout bounds how long a Synced acknowledgment may block on
// the stable-storage force before failing with ErrTimeout.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) {
		o.syncTimeout = d
	}
}

// WithWAL customizes write-ahead log options. The WAL path and sync mode
// are derived from WithPath and WithDurability; use this for compression,
// group commit tuning, and auto-checkpoint thresholds.
//
// Example:
//
//	kivo.Open(ctx,
//	    kivo.WithPath("./data"),
//	    kivo.WithWAL(func(o *wal.Options) {
//	        o.Compress = true
//	        o.AutoCheckpointMB = 256
//	    }),
//	)
func WithWAL(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithSnapshotOptions configures snapshot encoding for checkpoints.
func WithSnapshotOptions(opts snapshot.Options) Option {
	return func(o *options) {
		o.snapshotOptions = opts
	}
}

// WithBlobStore sets the blob store used for checkpoint snapshots,
// overriding the local store derived from WithPath. Use this to
// checkpoint to S3, MinIO, or a custom backend.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobStore = store
	}
}

// WithResourceConfig bounds background work: compaction worker
// concurrency and background IO throughput.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceConfig = cfg
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kivo.BasicMetricsCollector{}
//	db, _ := kivo.Open(ctx, kivo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kivo.NewJSONLogger(slog.LevelInfo)
//	db, _ := kivo.Open(ctx, kivo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		durability:       DurabilityBuffered,
		numShards:        1,
		snapshotOptions:  snapshot.DefaultOptions,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
