// Package kivo provides an embedded key-value storage engine for Go.
//
// Kivo combines a concurrent in-memory entry store with batched writes,
// configurable durability, and an LSM-style tiered read cache. It is
// designed to be embedded: it never terminates the host process and
// exposes every failure as a structured error.
//
// # Quick Start
//
// In-memory:
//
//	ctx := context.Background()
//	db, _ := kivo.Open(ctx)
//	defer db.Close()
//
//	_ = db.Put(ctx, []byte("answer"), []byte("42"))
//	value, _ := db.Get([]byte("answer"))
//
// Persistent:
//
//	db, _ := kivo.Open(ctx,
//	    kivo.WithPath("./data"),
//	    kivo.WithDurability(kivo.DurabilitySynced),
//	)
//
// # Durability Model
//
// Three levels control when Put and Delete acknowledge:
//
//	DurabilityNone      acknowledge on batch acceptance, fastest
//	DurabilityBuffered  acknowledge once the write-ahead log accepted
//	                    the batch (group commit), survives process exit
//	DurabilitySynced    acknowledge after fsync, survives crash
//
// An in-memory database accepts Buffered/Synced but degrades them to
// None; the degradation is logged and visible via EffectiveDurability.
//
// # Write Path
//
// Mutations coalesce into batches, bounded by size and latency. A batch
// commits to the write-ahead log as one atomic group, then applies to the
// store and cache; flush failures retry with exponential backoff and
// finally fail every waiting caller rather than dropping writes silently.
//
// # Read Path
//
// Reads consult the tiered cache newest-level first, then the entry
// store. Completed writes populate the cache before acknowledgment, so a
// read after a completed write always observes it.
//
// # Key Features
//
//   - Atomic write batches with group-commit WAL
//   - Crash recovery from snapshot plus committed log tail
//   - Checkpoints to local disk, S3, or MinIO via BlobStore
//   - Sharded entry store for parallel writers
//   - Bounded background compaction (worker and IO limits)
//   - C-style handle layer for embedding in other runtimes
package kivo
