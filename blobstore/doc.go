// Package blobstore provides storage abstraction for kivo's snapshot
// blobs.
//
// BlobStore is the interface for reading and writing immutable blobs
// (snapshots, checkpoint pointers). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: In-memory store for tests and ephemeral databases
//   - LocalStore: Local filesystem with atomic create via temp file and rename
//   - minio.Store: MinIO and other S3-compatible object stores
//   - s3.Store: Amazon S3 with range reads and streamed uploads
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends.
// Create must be atomic: a blob becomes visible to Open only after its
// WritableBlob was closed successfully.
package blobstore
