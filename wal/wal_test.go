package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kivo/engine"
	"github.com/hupe1980/kivo/internal/fs"
)

func asyncOptions(dir string) func(o *Options) {
	return func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeAsync
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
	}
}

func putMut(seq uint64, key, value string) *engine.Mutation {
	return &engine.Mutation{Op: engine.OpPut, Key: []byte(key), Value: []byte(value), Seq: seq}
}

func delMut(seq uint64, key string) *engine.Mutation {
	return &engine.Mutation{Op: engine.OpDelete, Key: []byte(key), Seq: seq}
}

func TestWAL_AppendBatch(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	err = w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
		delMut(3, "a"),
	})
	require.NoError(t, err)

	// Begin + 3 mutations + commit.
	count, err := w.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, uint64(3), w.MaxSeq())

	require.NoError(t, w.LogClear(4))
	count, err = w.Len()
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, uint64(4), w.MaxSeq())
}

func TestWAL_ReplayCommitted(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)

	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
	}))
	require.NoError(t, w.LogClear(3))
	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(4, "c", "3"),
		delMut(5, "c"),
	}))
	require.NoError(t, w.Close())

	// Reopen and replay.
	w, err = New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint64(5), w.MaxSeq())

	var replayed []Record
	err = w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, replayed, 5)
	assert.Equal(t, RecordPut, replayed[0].Type)
	assert.Equal(t, []byte("a"), replayed[0].Key)
	assert.Equal(t, []byte("1"), replayed[0].Value)
	assert.Equal(t, RecordClear, replayed[2].Type)
	assert.Equal(t, uint64(3), replayed[2].Seq)
	assert.Equal(t, RecordDelete, replayed[4].Type)
	assert.Equal(t, []byte("c"), replayed[4].Key)
}

func TestWAL_ReplayDropsUncommittedBatch(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)

	require.NoError(t, w.AppendBatch([]*engine.Mutation{putMut(1, "a", "1")}))

	// Simulate a crash mid-batch: begin and record present, commit missing.
	w.mu.Lock()
	require.NoError(t, w.encodeRecord(&Record{Type: RecordBatchBegin, Seq: 2}))
	require.NoError(t, w.encodeRecord(&Record{Type: RecordPut, Seq: 2, Key: []byte("b"), Value: []byte("lost")}))
	require.NoError(t, w.flushLocked())
	w.mu.Unlock()

	require.NoError(t, w.Close())

	w, err = New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	var replayed []Record
	require.NoError(t, w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}))

	require.Len(t, replayed, 1)
	assert.Equal(t, []byte("a"), replayed[0].Key)
}

func TestWAL_ReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)
	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
	}))
	require.NoError(t, w.Close())

	// Tear the tail: a partial record that never finished writing.
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(RecordBatchBegin), 0xde, 0xad})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	// The committed prefix survives; the torn tail is dropped silently.
	assert.Equal(t, uint64(2), w.MaxSeq())

	var replayed []Record
	require.NoError(t, w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}))
	assert.Len(t, replayed, 2)
}

func TestWAL_ReplayContinuesPastCheckpointRecord(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
	}))

	// A checkpoint record without the truncation that normally follows it,
	// as left behind when truncation fails after the marker was written.
	w.mu.Lock()
	require.NoError(t, w.encodeRecord(&Record{Type: RecordCheckpoint, Seq: 2}))
	require.NoError(t, w.flushLocked())
	w.mu.Unlock()

	require.NoError(t, w.AppendBatch([]*engine.Mutation{putMut(3, "c", "3")}))

	var replayed []Record
	require.NoError(t, w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}))

	// Pre-checkpoint records re-apply idempotently over the snapshot;
	// post-checkpoint records must not be lost.
	require.Len(t, replayed, 3)
	assert.Equal(t, []byte("c"), replayed[2].Key)
}

func TestWAL_CheckpointTruncates(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
	}))

	require.NoError(t, w.Checkpoint())

	count, err := w.Len()
	require.NoError(t, err)
	assert.Zero(t, count)

	// Sequence numbers continue across the truncation.
	assert.Equal(t, uint64(2), w.MaxSeq())

	require.NoError(t, w.AppendBatch([]*engine.Mutation{putMut(3, "c", "3")}))

	var replayed []Record
	require.NoError(t, w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}))
	require.Len(t, replayed, 1)
	assert.Equal(t, uint64(3), replayed[0].Seq)
}

func TestWAL_CompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()

	opts := func(o *Options) {
		asyncOptions(dir)(o)
		o.Compress = true
	}

	w, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
		putMut(3, "c", "3"),
	}))
	require.NoError(t, w.Close())

	w, err = New(opts)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint64(3), w.MaxSeq())

	var replayed []Record
	require.NoError(t, w.ReplayCommitted(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}))
	assert.Len(t, replayed, 3)
}

func TestWAL_GroupCommit(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeGroupCommit
		o.GroupCommitInterval = 2 * time.Millisecond
		o.GroupCommitMaxOps = 100
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
	})
	require.NoError(t, err)
	defer w.Close()

	done := make(chan error, 1)
	go func() {
		done <- w.AppendBatch([]*engine.Mutation{putMut(1, "a", "1")})
	}()

	// The append blocks until the background worker performed the shared
	// fsync, then returns with the records persisted.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("group-commit append never completed")
	}
}

func TestWAL_GroupCommitMaxOpsForcesSync(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeGroupCommit
		o.GroupCommitInterval = time.Hour // never tick; MaxOps must drive it
		o.GroupCommitMaxOps = 1
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendBatch([]*engine.Mutation{putMut(1, "a", "1")}))
}

func TestWAL_SyncFaultSurfaces(t *testing.T) {
	dir := t.TempDir()

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(FileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	w, err := New(func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeSync
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
		o.FS = faulty
	})
	require.NoError(t, err)
	defer w.Close()

	err = w.AppendBatch([]*engine.Mutation{putMut(1, "a", "1")})
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestWAL_WriteFaultSurfaces(t *testing.T) {
	dir := t.TempDir()

	faulty := fs.NewFaultyFS(nil)
	// The 16-byte header fits; the first record does not.
	faulty.AddRule(FileName, fs.Fault{FailAfterBytes: 20})

	w, err := New(func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeAsync
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
		o.FS = faulty
	})
	require.NoError(t, err)
	defer w.Close()

	err = w.AppendBatch([]*engine.Mutation{putMut(1, "key", "a value large enough to overflow the budget")})
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestWAL_AutoCheckpointByOps(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.SyncMode = SyncModeAsync
		o.AutoCheckpointOps = 3
		o.AutoCheckpointMB = 0
	})
	require.NoError(t, err)
	defer w.Close()

	fired := make(chan struct{}, 1)
	w.SetCheckpointCallback(func() error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})

	require.NoError(t, w.AppendBatch([]*engine.Mutation{
		putMut(1, "a", "1"),
		putMut(2, "b", "2"),
		putMut(3, "c", "3"),
	}))

	select {
	case <-fired:
	default:
		t.Fatal("auto-checkpoint callback did not fire at the ops threshold")
	}
}

func TestWAL_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()

	w, err := New(asyncOptions(dir))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.AppendBatch([]*engine.Mutation{putMut(1, "a", "1")})
	assert.ErrorIs(t, err, ErrClosed)
}
