// Package wal provides write-ahead logging for durability and crash
// recovery.
//
// Mutations are appended in atomic batch groups framed by begin/commit
// records, so recovery applies only fully committed batches. Each record
// carries a CRC32C checksum; a torn or corrupt tail is detected and
// discarded during replay instead of poisoning recovery.
//
// Features:
//   - Atomic batch groups (AppendBatch) with begin/commit framing
//   - Configurable fsync behavior (Async, GroupCommit, Sync)
//   - Optional zstd compression of the record stream
//   - Checkpoint support for log truncation after snapshots
//   - Auto-checkpoint by committed operation count or file size
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/kivo/engine"
	"github.com/hupe1980/kivo/internal/fs"
)

// ErrClosed is returned by operations on a closed WAL.
var ErrClosed = errors.New("wal: closed")

const (
	openReadWriteCreate = os.O_CREATE | os.O_RDWR
	openReadWriteTrunc  = os.O_CREATE | os.O_RDWR | os.O_TRUNC
)

// FileName is the name of the WAL file inside Options.Path.
const FileName = "kivo.wal"

// WAL provides write-ahead logging for durability. It satisfies the
// engine's durability backend contract.
type WAL struct {
	mu               sync.Mutex
	fsys             fs.FileSystem
	file             fs.File
	writer           io.Writer
	bufWriter        *bufio.Writer
	compressor       *zstd.Encoder
	decompressor     *zstd.Decoder
	scratch          []byte
	lastSeq          uint64
	filePath         string
	compressed       bool
	compressionLevel int
	dataOffset       int64 // start of the record stream, after the header

	// Auto-checkpoint tracking
	autoCheckpointOps int
	autoCheckpointMB  int
	committedOps      int
	checkpointFunc    func() error

	// Group commit support
	syncMode            SyncMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup

	syncCond     *sync.Cond
	persistedSeq uint64 // highest sequence number forced to stable storage
}

// FilePath returns the path to the WAL file.
func (w *WAL) FilePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filePath
}

// New creates a new WAL instance, reopening an existing log when present.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	if err := opts.FS.MkdirAll(opts.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, FileName)

	file, err := opts.FS.OpenFile(filePath, openReadWriteCreate, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	w := &WAL{
		fsys:                opts.FS,
		file:                file,
		filePath:            filePath,
		compressionLevel:    opts.CompressionLevel,
		autoCheckpointOps:   opts.AutoCheckpointOps,
		autoCheckpointMB:    opts.AutoCheckpointMB,
		syncMode:            opts.SyncMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if st.Size() == 0 {
		hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
			Compressed:       opts.Compress,
			CompressionLevel: opts.CompressionLevel,
		})
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		w.dataOffset = hdrLen
		w.compressed = opts.Compress
	} else {
		hdrInfo, valid, err := readWALHeader(w.file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to read WAL header: %w", err)
		}
		if !valid {
			_ = file.Close()
			return nil, fmt.Errorf("invalid WAL header")
		}
		w.dataOffset = hdrInfo.HeaderLen
		w.compressed = hdrInfo.Compressed
		w.compressionLevel = hdrInfo.CompressionLevel
	}

	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		_ = w.file.Close()
		return nil, fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(w.file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter

		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			_ = compressor.Close()
			_ = file.Close()
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		w.decompressor = decompressor
	} else {
		w.bufWriter = bufio.NewWriter(w.file)
		w.writer = w.bufWriter
	}

	if err := w.scanForSeq(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	if w.syncMode == SyncModeGroupCommit && w.groupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(w.groupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker()
	}

	return w, nil
}

// MaxSeq returns the highest sequence number recorded in the log,
// determined at open time and advanced by appends.
func (w *WAL) MaxSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// AppendBatch appends a group of mutations as one atomic unit: a begin
// record, one record per mutation, and a commit record. Recovery applies
// the group only when the commit record is present and intact.
func (w *WAL) AppendBatch(muts []*engine.Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	first := muts[0].Seq
	last := muts[len(muts)-1].Seq

	begin := Record{Type: RecordBatchBegin, Seq: first}
	if err := w.encodeRecord(&begin); err != nil {
		return fmt.Errorf("failed to encode batch begin: %w", err)
	}

	for _, mut := range muts {
		rec := Record{Seq: mut.Seq, Key: mut.Key}
		switch mut.Op {
		case engine.OpPut:
			rec.Type = RecordPut
			rec.Value = mut.Value
		case engine.OpDelete:
			rec.Type = RecordDelete
		default:
			return fmt.Errorf("unsupported mutation op: %d", mut.Op)
		}
		if err := w.encodeRecord(&rec); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", mut.Seq, err)
		}
		if mut.Seq > w.lastSeq {
			w.lastSeq = mut.Seq
		}
	}

	commit := Record{Type: RecordBatchCommit, Seq: last}
	if err := w.encodeRecord(&commit); err != nil {
		return fmt.Errorf("failed to encode batch commit: %w", err)
	}

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.committedOps += len(muts)
	if err := w.syncIfNeeded(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// LogClear appends a clear record. A clear is a single-record operation
// and needs no batch framing.
func (w *WAL) LogClear(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	rec := Record{Type: RecordClear, Seq: seq}
	if err := w.encodeRecord(&rec); err != nil {
		return fmt.Errorf("failed to encode clear record: %w", err)
	}
	if seq > w.lastSeq {
		w.lastSeq = seq
	}

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.committedOps++
	if err := w.syncIfNeeded(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// Sync forces all appended records to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := syncFile(w.file); err != nil {
		return err
	}
	w.groupCommitPending = 0
	w.persistedSeq = w.lastSeq
	w.syncCond.Broadcast()
	return nil
}

// syncIfNeeded enforces the configured sync mode after an append.
// Caller must hold w.mu.
func (w *WAL) syncIfNeeded() error {
	switch w.syncMode {
	case SyncModeAsync:
		return nil

	case SyncModeSync:
		if err := syncFile(w.file); err != nil {
			return err
		}
		w.persistedSeq = w.lastSeq
		return nil

	case SyncModeGroupCommit:
		w.groupCommitPending++
		targetSeq := w.lastSeq

		if w.groupCommitPending >= w.groupCommitMaxOps {
			return w.doGroupCommit()
		}
		// Wait() releases w.mu so the background worker can sync.
		for w.persistedSeq < targetSeq {
			w.syncCond.Wait()
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the shared fsync and wakes all waiting appends.
// Caller must hold w.mu.
func (w *WAL) doGroupCommit() error {
	if w.groupCommitPending == 0 {
		return nil
	}

	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := syncFile(w.file); err != nil {
		return err
	}

	w.groupCommitPending = 0
	w.persistedSeq = w.lastSeq
	w.syncCond.Broadcast()
	return nil
}

// groupCommitWorker performs periodic fsync in GroupCommit mode.
func (w *WAL) groupCommitWorker() {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-w.groupCommitStopCh:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
			return

		case <-w.groupCommitTicker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// scanForSeq scans the log to find the highest recorded sequence number.
// The scan stops silently at the first corrupt record (torn tail).
func (w *WAL) scanForSeq() error {
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	var maxSeq uint64
	for {
		var rec Record
		if err := decodeRecord(reader, &rec); err != nil {
			break
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	w.lastSeq = maxSeq
	w.persistedSeq = maxSeq

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Checkpoint writes a checkpoint marker and truncates the log. Call after
// the current state has been captured in a snapshot.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	rec := Record{Type: RecordCheckpoint, Seq: w.lastSeq}
	if err := w.encodeRecord(&rec); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := w.flushLocked(); err != nil {
		return err
	}

	// Checkpoint is an explicit durability boundary.
	if err := syncFile(w.file); err != nil {
		return err
	}

	return w.truncate()
}

// truncate replaces the log with an empty one. Caller must hold w.mu.
func (w *WAL) truncate() error {
	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}
	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	file, err := w.fsys.OpenFile(w.filePath, openReadWriteTrunc, 0600)
	if err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}
	w.file = file

	hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.compressionLevel,
	})
	if err != nil {
		_ = w.file.Close()
		return err
	}
	w.dataOffset = hdrLen
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to recreate compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter
	} else {
		w.bufWriter = bufio.NewWriter(file)
		w.writer = w.bufWriter
	}

	// Sequence numbers continue; everything up to lastSeq is in the
	// snapshot, so nothing is pending.
	w.persistedSeq = w.lastSeq
	w.groupCommitPending = 0
	w.committedOps = 0
	w.syncCond.Broadcast()

	return nil
}

// Close stops the group commit worker, performs a final fsync, and closes
// the file. Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	if w.groupCommitTicker != nil {
		close(w.groupCommitStopCh)
		w.mu.Unlock()
		w.groupCommitWg.Wait()
		w.mu.Lock()
		w.groupCommitTicker.Stop()
		w.groupCommitTicker = nil
	}

	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}
	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if w.decompressor != nil {
		w.decompressor.Close()
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// Len returns the number of records in the log (approximate, for testing).
func (w *WAL) Len() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return 0, err
	}

	currentPos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return 0, err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return 0, fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	count := 0
	for {
		var rec Record
		if err := decodeRecord(reader, &rec); err != nil {
			break
		}
		count++
	}

	if _, err := w.file.Seek(currentPos, io.SeekStart); err != nil {
		return count, err
	}
	return count, nil
}

// SetCheckpointCallback sets the function invoked when an auto-checkpoint
// threshold is exceeded, typically the database's snapshot routine.
func (w *WAL) SetCheckpointCallback(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpointFunc = fn
}

// maybeCheckpointLocked triggers the checkpoint callback when a threshold
// is exceeded. Caller must hold w.mu.
func (w *WAL) maybeCheckpointLocked() error {
	if w.autoCheckpointOps > 0 && w.committedOps >= w.autoCheckpointOps {
		return w.triggerAutoCheckpointLocked()
	}

	if w.autoCheckpointMB > 0 {
		stat, err := w.file.Stat()
		if err == nil {
			sizeMB := stat.Size() / (1024 * 1024)
			if sizeMB >= int64(w.autoCheckpointMB) {
				return w.triggerAutoCheckpointLocked()
			}
		}
	}

	return nil
}

// triggerAutoCheckpointLocked executes the checkpoint callback. Caller
// must hold w.mu; the lock is released around the callback because it
// typically calls back into Checkpoint.
func (w *WAL) triggerAutoCheckpointLocked() error {
	if w.checkpointFunc == nil {
		return nil
	}

	w.committedOps = 0

	w.mu.Unlock()
	err := w.checkpointFunc()
	w.mu.Lock()

	return err
}
