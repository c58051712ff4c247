package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Ticket tracks one submitted mutation through batching and flush. It
// resolves once the mutation's batch has been acknowledged per the
// configured durability level, or failed permanently.
//
// A caller may abandon a ticket at any time (stop waiting); the batch
// still completes or fails asynchronously. Abandonment is not retraction.
type Ticket struct {
	mut  *Mutation
	done chan struct{}
	err  error
}

func newTicket(mut *Mutation) *Ticket {
	return &Ticket{mut: mut, done: make(chan struct{})}
}

// Done returns a channel closed when the ticket resolves.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the resolution error. Valid only after Done is closed.
func (t *Ticket) Err() error { return t.err }

// Existed reports whether an OpDelete mutation removed a live key.
// Valid only after Done is closed with a nil Err.
func (t *Ticket) Existed() bool { return t.mut.existed }

// Wait blocks until the ticket resolves or ctx is canceled.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatcherConfig configures batching and flush-retry behavior.
type BatcherConfig struct {
	// MaxSize closes a batch once it holds this many mutations.
	MaxSize int

	// MaxLatency closes a non-empty batch after this much time even if
	// MaxSize was not reached.
	MaxLatency time.Duration

	// MaxRetries bounds flush retries after the initial attempt.
	MaxRetries int

	// RetryBackoff is the initial backoff between flush retries; it
	// doubles per attempt.
	RetryBackoff time.Duration

	Logger *slog.Logger
}

func (cfg *BatcherConfig) withDefaults() {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 128
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = 5 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// pendingBatch is an ordered group of mutations flushed atomically.
type pendingBatch struct {
	muts    []*Mutation
	tickets []*Ticket // aligned with muts; nil for pre-resolved tickets
	done    chan struct{}
	err     error
}

func (pb *pendingBatch) finish(err error) {
	pb.err = err
	for _, t := range pb.tickets {
		if t == nil {
			continue
		}
		t.err = err
		close(t.done)
	}
	close(pb.done)
}

// Batcher coalesces mutations into batches and hands them to the
// durability controller for flush. Mutations from one submitting
// goroutine are applied in submission order; batches preserve same-key
// program order within the batch because apply walks mutations in order.
type Batcher struct {
	store Store
	cache *TieredCache
	dur   *DurabilityController
	cfg   BatcherConfig

	mu   sync.Mutex
	seq  uint64
	cur  *pendingBatch
	gen  uint64 // batch generation, guards the latency timer
	last *pendingBatch

	flushCh  chan *pendingBatch
	sendMu   sync.RWMutex // held shared by enqueue, exclusively to close flushCh
	sendDone bool
	gate     sync.RWMutex // held shared by flushes, exclusively by checkpoints
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewBatcher creates a batcher applying to store and cache, acknowledging
// through dur. Start is implicit; Close stops the flusher.
func NewBatcher(store Store, cache *TieredCache, dur *DurabilityController, cfg BatcherConfig) *Batcher {
	cfg.withDefaults()

	b := &Batcher{
		store:   store,
		cache:   cache,
		dur:     dur,
		cfg:     cfg,
		flushCh: make(chan *pendingBatch, 64),
	}

	b.wg.Add(1)
	go b.flusher()

	return b
}

// Seq returns the last assigned sequence number.
func (b *Batcher) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// SetSeq advances the sequence counter, used after WAL replay so new
// mutations continue the recovered sequence.
func (b *Batcher) SetSeq(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.seq {
		b.seq = seq
	}
}

// BumpSeq assigns and returns the next sequence number for an operation
// that bypasses batching (clear).
func (b *Batcher) BumpSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

// Submit enqueues a mutation and returns its ticket.
//
// With DurabilityNone the mutation is applied to the store immediately
// and the ticket resolves before Submit returns; the batch still carries
// the mutation to the backend asynchronously. With Buffered/Synced the
// mutation becomes visible at flush, and the ticket resolves after the
// durability controller acknowledged the batch.
func (b *Batcher) Submit(ctx context.Context, op Op, key, value []byte) (*Ticket, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	b.seq++
	mut := &Mutation{Op: op, Key: key, Value: value, Seq: b.seq}
	ticket := newTicket(mut)

	applyNow := b.dur.Effective() == DurabilityNone
	if applyNow {
		b.applyOne(mut)
		ticket.err = nil
		close(ticket.done)
		b.appendLocked(mut, nil)
	} else {
		b.appendLocked(mut, ticket)
	}

	var full *pendingBatch
	if len(b.cur.muts) >= b.cfg.MaxSize {
		full = b.closeBatchLocked()
	}
	b.mu.Unlock()

	if full != nil {
		b.enqueue(full)
	}
	return ticket, nil
}

// appendLocked adds a mutation to the current batch, opening one and
// arming the latency timer if needed. Caller must hold b.mu.
func (b *Batcher) appendLocked(mut *Mutation, ticket *Ticket) {
	if b.cur == nil {
		b.cur = &pendingBatch{done: make(chan struct{})}
		b.gen++
		gen := b.gen
		time.AfterFunc(b.cfg.MaxLatency, func() {
			b.flushGen(gen)
		})
	}
	b.cur.muts = append(b.cur.muts, mut)
	b.cur.tickets = append(b.cur.tickets, ticket)
}

// closeBatchLocked detaches the current batch. Caller must hold b.mu and
// is responsible for enqueueing the returned batch outside the lock.
func (b *Batcher) closeBatchLocked() *pendingBatch {
	pb := b.cur
	if pb == nil {
		return nil
	}
	b.cur = nil
	b.gen++
	b.last = pb
	return pb
}

// enqueue hands a batch to the flusher. A batch detached by a Submit or
// Flush that lost the race with Close fails with ErrClosed; sending it
// would panic on the closed channel.
func (b *Batcher) enqueue(pb *pendingBatch) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.sendDone {
		pb.finish(ErrClosed)
		return
	}
	b.flushCh <- pb
}

// flushGen closes the batch of the given generation if it is still open.
func (b *Batcher) flushGen(gen uint64) {
	b.mu.Lock()
	var pb *pendingBatch
	if b.gen == gen && b.cur != nil {
		pb = b.closeBatchLocked()
	}
	b.mu.Unlock()

	if pb != nil {
		b.enqueue(pb)
	}
}

// Flush closes the current batch and waits until every batch submitted so
// far has been flushed (batches flush in FIFO order).
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if pb := b.closeBatchLocked(); pb != nil {
		b.mu.Unlock()
		b.enqueue(pb)
		b.mu.Lock()
	}
	wait := b.last
	b.mu.Unlock()

	if wait == nil {
		return nil
	}
	select {
	case <-wait.done:
		return wait.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending mutations and stops the flusher. Safe to call
// once; subsequent calls return ErrClosed.
func (b *Batcher) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	b.mu.Lock()
	pb := b.closeBatchLocked()
	b.mu.Unlock()
	if pb != nil {
		b.enqueue(pb)
	}

	b.sendMu.Lock()
	b.sendDone = true
	close(b.flushCh)
	b.sendMu.Unlock()

	b.wg.Wait()
	return nil
}

// HoldFlush blocks batch flushing until the returned release function is
// called. A checkpoint uses this to capture store state and truncate the
// log without a flush landing in between; a clear uses it to keep its
// store wipe and log record adjacent.
func (b *Batcher) HoldFlush() func() {
	b.gate.Lock()
	return b.gate.Unlock
}

func (b *Batcher) flusher() {
	defer b.wg.Done()

	for pb := range b.flushCh {
		b.flushBatch(pb)
	}
}

// flushBatch drives one batch through durability and apply. Flush errors
// are retried with exponential backoff; sync timeouts are surfaced
// immediately. A batch that exhausts its retries fails every ticket and
// is discarded, never silently lost.
func (b *Batcher) flushBatch(pb *pendingBatch) {
	b.gate.RLock()
	defer b.gate.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("panic during batch flush",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			pb.finish(fmt.Errorf("%w: flush panic: %v", ErrBatchDiscarded, r))
		}
	}()

	var err error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := b.cfg.RetryBackoff << uint(attempt-1)
			b.cfg.Logger.Warn("batch flush retry",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			time.Sleep(backoff)
		}

		err = b.dur.CommitBatch(pb.muts)
		if err == nil || errors.Is(err, ErrSyncTimeout) {
			break
		}
	}

	if err != nil {
		b.cfg.Logger.Error("batch discarded after flush failure",
			"mutations", len(pb.muts),
			"error", err,
		)
		if !errors.Is(err, ErrSyncTimeout) {
			err = fmt.Errorf("%w: %w", ErrBatchDiscarded, err)
		}
		pb.finish(err)
		return
	}

	if b.dur.Effective() != DurabilityNone {
		b.applyAll(pb.muts)
	}
	pb.finish(nil)
}

// applyAll applies a batch to the store and cache in submission order, so
// the later of two same-key mutations wins.
func (b *Batcher) applyAll(muts []*Mutation) {
	for _, mut := range muts {
		b.applyOne(mut)
	}
}

func (b *Batcher) applyOne(mut *Mutation) {
	switch mut.Op {
	case OpPut:
		b.store.Set(mut.Key, mut.Value, mut.Seq)
		if b.cache != nil {
			b.cache.Put(mut.Key, mut.Value, mut.Seq)
		}
	case OpDelete:
		mut.existed = b.store.Delete(mut.Key, mut.Seq)
		if b.cache != nil {
			b.cache.Delete(mut.Key, mut.Seq)
		}
	}
}
