package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestPool_RunsAllJobsWithBoundedConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), 2, arbor.NewLogger())
	pool.Start()

	var running, peak, done int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
			return nil
		}))
	}
	require.NoError(t, pool.Wait())

	assert.Equal(t, int32(10), atomic.LoadInt32(&done))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Empty(t, pool.Errors())
	assert.Equal(t, Stats{Submitted: 10, Succeeded: 10}, pool.Stats())
}

func TestPool_CollectsErrorsAndPanics(t *testing.T) {
	pool := NewPool(context.Background(), 3, arbor.NewLogger())
	pool.Start()

	require.NoError(t, pool.Submit(func(context.Context) error { return errors.New("failed") }))
	require.NoError(t, pool.Submit(func(context.Context) error { panic("boom") }))
	require.NoError(t, pool.Submit(func(context.Context) error { return nil }))
	err := pool.Wait()

	require.Error(t, err)
	assert.ErrorContains(t, err, "job panicked: boom")
	assert.Len(t, pool.Errors(), 2)
	assert.Equal(t, Stats{Submitted: 3, Succeeded: 1, Failed: 2}, pool.Stats())
}

func TestPool_ShutdownCancelsJobs(t *testing.T) {
	pool := NewPool(context.Background(), 1, arbor.NewLogger())
	pool.Start()

	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(func(context.Context) error { return nil }), ErrPoolClosed)
}
