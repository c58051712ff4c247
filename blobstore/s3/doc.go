// Package s3 provides a BlobStore implementation for Amazon S3, plus an
// optional DynamoDB-backed checkpoint pointer store for safe concurrent
// checkpointing.
//
// Snapshots are streamed to S3 via multipart upload; reads use ranged
// GETs so the snapshot reader never needs the full object in memory.
package s3
