package wal

import (
	"time"

	"github.com/hupe1980/kivo/internal/fs"
)

// SyncMode defines the fsync behavior for WAL writes.
type SyncMode int

const (
	// SyncModeAsync performs no fsync from the WAL itself. Fastest writes,
	// data loss on crash is possible. The caller may still force durability
	// with an explicit Sync.
	SyncModeAsync SyncMode = iota

	// SyncModeGroupCommit batches fsync across concurrent appends,
	// amortizing its cost. Appends block until their records are persisted.
	SyncModeGroupCommit

	// SyncModeSync fsyncs after every append. Slowest, strongest guarantee.
	SyncModeSync
)

// RecordType identifies a WAL record.
type RecordType uint8

const (
	// RecordPut stores a key/value write.
	RecordPut RecordType = iota + 1
	// RecordDelete stores a key removal.
	RecordDelete
	// RecordClear marks removal of all entries up to its sequence number.
	RecordClear
	// RecordBatchBegin opens an atomic group of mutations.
	RecordBatchBegin
	// RecordBatchCommit closes an atomic group. Recovery applies a group
	// only when its commit record is present and intact.
	RecordBatchCommit
	// RecordCheckpoint marks that all preceding state has been captured in
	// a snapshot; replay stops here.
	RecordCheckpoint
)

// Record is a single entry in the WAL.
type Record struct {
	Type  RecordType
	Seq   uint64
	Key   []byte
	Value []byte
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the WAL file is stored.
	Path string

	// Compress enables zstd compression of the record stream.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22). Default 3.
	CompressionLevel int

	// AutoCheckpointOps triggers the checkpoint callback after N committed
	// operations. 0 disables operation-based checkpoints.
	AutoCheckpointOps int

	// AutoCheckpointMB triggers the checkpoint callback when the WAL file
	// exceeds N megabytes. 0 disables size-based checkpoints.
	AutoCheckpointMB int

	// SyncMode controls fsync behavior (Async, GroupCommit, Sync).
	SyncMode SyncMode

	// GroupCommitInterval is the maximum time an append waits for the
	// background fsync in GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps forces an immediate fsync once this many appends
	// accumulated in GroupCommit mode.
	GroupCommitMaxOps int

	// FS is the file system used for all file operations. Defaults to the
	// local file system; tests swap in a fault-injecting implementation.
	FS fs.FileSystem
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:                ".",
	Compress:            false,
	CompressionLevel:    3,
	AutoCheckpointOps:   10000,
	AutoCheckpointMB:    100,
	SyncMode:            SyncModeGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
