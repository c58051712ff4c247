// This file implements a fluent builder API for creating and configuring
// DB instances. The builder is immutable - each method returns a new
// builder with the updated configuration.
package kivo

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/kivo/blobstore"
	"github.com/hupe1980/kivo/resource"
	"github.com/hupe1980/kivo/snapshot"
	"github.com/hupe1980/kivo/wal"
)

// Builder starts a fluent database configuration.
//
// Example:
//
//	db, err := kivo.Builder().
//	    Path("./data").
//	    Synced().
//	    Shards(8).
//	    Build(ctx)
func Builder() DBBuilder {
	return DBBuilder{}
}

// DBBuilder is an immutable fluent builder for creating DB instances.
// Each method returns a new builder with the updated configuration.
type DBBuilder struct {
	opts []Option
}

func (b DBBuilder) with(opt Option) DBBuilder {
	next := make([]Option, len(b.opts), len(b.opts)+1)
	copy(next, b.opts)
	next = append(next, opt)
	return DBBuilder{opts: next}
}

// Path sets the storage directory for the write-ahead log and snapshots.
func (b DBBuilder) Path(path string) DBBuilder {
	return b.with(WithPath(path))
}

// None sets DurabilityNone: acknowledge before persistence.
func (b DBBuilder) None() DBBuilder {
	return b.with(WithDurability(DurabilityNone))
}

// Buffered sets DurabilityBuffered: acknowledge after the log buffer
// accepted the batch.
func (b DBBuilder) Buffered() DBBuilder {
	return b.with(WithDurability(DurabilityBuffered))
}

// Synced sets DurabilitySynced: acknowledge after fsync.
func (b DBBuilder) Synced() DBBuilder {
	return b.with(WithDurability(DurabilitySynced))
}

// Shards sets the number of entry store shards.
// Default: 1 (no sharding). Recommended: 2-8 for high-concurrency workloads.
func (b DBBuilder) Shards(n int) DBBuilder {
	return b.with(WithNumShards(n))
}

// BatchSize sets the mutation count at which a batch flushes.
func (b DBBuilder) BatchSize(n int) DBBuilder {
	return b.with(WithBatchMaxSize(n))
}

// BatchLatency bounds how long a non-empty batch may stay open.
func (b DBBuilder) BatchLatency(d time.Duration) DBBuilder {
	return b.with(WithBatchMaxLatency(d))
}

// CacheLevelCapacity sets the read cache's mutable level capacity.
func (b DBBuilder) CacheLevelCapacity(n int) DBBuilder {
	return b.with(WithCacheLevelCapacity(n))
}

// WAL customizes write-ahead log options.
func (b DBBuilder) WAL(optFns ...func(*wal.Options)) DBBuilder {
	return b.with(WithWAL(optFns...))
}

// Snapshot configures snapshot encoding for checkpoints.
func (b DBBuilder) Snapshot(opts snapshot.Options) DBBuilder {
	return b.with(WithSnapshotOptions(opts))
}

// BlobStore sets the checkpoint target, overriding the local store.
func (b DBBuilder) BlobStore(store blobstore.BlobStore) DBBuilder {
	return b.with(WithBlobStore(store))
}

// Resources bounds background work.
func (b DBBuilder) Resources(cfg resource.Config) DBBuilder {
	return b.with(WithResourceConfig(cfg))
}

// Logger configures structured logging.
func (b DBBuilder) Logger(logger *Logger) DBBuilder {
	return b.with(WithLogger(logger))
}

// LogLevel configures a text logger with the given level.
func (b DBBuilder) LogLevel(level slog.Level) DBBuilder {
	return b.with(WithLogLevel(level))
}

// Metrics configures a metrics collector.
func (b DBBuilder) Metrics(mc MetricsCollector) DBBuilder {
	return b.with(WithMetricsCollector(mc))
}

// Build opens the database with the accumulated configuration.
func (b DBBuilder) Build(ctx context.Context) (*DB, error) {
	return Open(ctx, b.opts...)
}
