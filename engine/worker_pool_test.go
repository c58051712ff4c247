package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	wp := NewWorkerPool(2)
	defer wp.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := wp.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int64(20), counter.Load())
}

func TestWorkerPool_TrySubmit(t *testing.T) {
	wp := NewWorkerPool(1)

	var ran atomic.Bool
	done := make(chan struct{})
	ok := wp.TrySubmit(func() {
		ran.Store(true)
		close(done)
	})
	require.True(t, ok)
	<-done
	assert.True(t, ran.Load())

	wp.Close()
	assert.False(t, wp.TrySubmit(func() {}))
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	wp := NewWorkerPool(1)
	wp.Close()

	err := wp.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorkerPool_CloseWaitsForInflightTasks(t *testing.T) {
	wp := NewWorkerPool(2)

	var completed atomic.Int64
	for i := 0; i < 4; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() {
			completed.Add(1)
		}))
	}

	wp.Close()
	assert.Equal(t, int64(4), completed.Load())

	// Idempotent.
	wp.Close()
}
