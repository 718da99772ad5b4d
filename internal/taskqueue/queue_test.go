package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsTasksInOrder(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	var got []int

	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Post(func() { got = append(got, i) }))
	}

	require.NoError(t, q.Flush(context.Background()))

	require.Len(t, got, 100)

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueue_TasksNeverOverlap(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	var running, maxRunning int32

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				q.Post(func() {
					n := atomic.AddInt32(&running, 1)
					if n > atomic.LoadInt32(&maxRunning) {
						atomic.StoreInt32(&maxRunning, n)
					}
					atomic.AddInt32(&running, -1)
				})
			}
		}()
	}

	wg.Wait()
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestQueue_TaskCanPostFollowUp(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	done := make(chan struct{})

	q.Post(func() {
		q.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("follow-up task never ran")
	}
}

func TestQueue_PostDelayed(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	start := time.Now()
	ran := make(chan time.Duration, 1)

	require.True(t, q.PostDelayed(func() { ran <- time.Since(start) }, 50*time.Millisecond))

	select {
	case elapsed := <-ran:
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestQueue_DelayedTaskRunsAfterImmediateOnes(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	order := make(chan string, 2)

	q.PostDelayed(func() { order <- "delayed" }, 20*time.Millisecond)
	q.Post(func() { order <- "immediate" })

	assert.Equal(t, "immediate", <-order)
	assert.Equal(t, "delayed", <-order)
}

func TestQueue_CloseRunsPendingDelayedTasksEarly(t *testing.T) {
	q := New(context.Background())

	var runs atomic.Int32

	order := make(chan string, 2)

	q.PostDelayed(func() {
		runs.Add(1)
		order <- "delayed"
	}, time.Hour)
	q.Post(func() { order <- "immediate" })

	start := time.Now()
	q.Close()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "immediate", <-order)
	assert.Equal(t, "delayed", <-order)

	assert.False(t, q.Post(func() {}))
	assert.False(t, q.PostDelayed(func() {}, time.Millisecond))
	assert.ErrorIs(t, q.Flush(context.Background()), ErrClosed)
}

func TestQueue_TimerFiringAfterCloseDoesNotRepeatTask(t *testing.T) {
	q := New(context.Background())

	var runs atomic.Int32

	q.PostDelayed(func() { runs.Add(1) }, 20*time.Millisecond)
	q.Close()

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(1), runs.Load())
}

func TestQueue_CloseRunsQueuedTasks(t *testing.T) {
	q := New(context.Background())

	var count atomic.Int32

	block := make(chan struct{})
	q.Post(func() { <-block })

	for i := 0; i < 10; i++ {
		q.Post(func() { count.Add(1) })
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()

	q.Close()

	assert.Equal(t, int32(10), count.Load())
}

func TestQueue_RecoversFromPanics(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	q.Post(func() { panic("boom") })

	var ran atomic.Bool

	q.Post(func() { ran.Store(true) })

	require.NoError(t, q.Flush(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueue_FlushHonoursContext(t *testing.T) {
	q := New(context.Background())
	defer q.Close()

	block := make(chan struct{})
	defer close(block)

	q.Post(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)
}
