// Package taskqueue provides a serial execution context: tasks run one at a
// time, in submission order, on a single worker goroutine.
package taskqueue

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/logctx"
)

// Queue is an ordered work queue consumed by one goroutine. Delayed tasks are
// appended to the queue when their timer fires, so they never run
// concurrently with other tasks.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	timers map[*delayed]*time.Timer
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// New creates a queue and starts its worker.
func New(ctx context.Context) *Queue {
	q := &Queue{
		timers: make(map[*delayed]*time.Timer),
		done:   make(chan struct{}),
		logger: logctx.LoggerFromContext(ctx).With("component", "taskqueue"),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

// Post appends task to the queue. It reports false if the queue is closed.
func (q *Queue) Post(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, task)
	q.cond.Signal()

	return true
}

type delayed struct {
	task func()
}

// PostDelayed appends task to the queue once delay has elapsed. Closing the
// queue runs pending delayed tasks early instead of dropping them.
func (q *Queue) PostDelayed(task func(), delay time.Duration) bool {
	if delay <= 0 {
		return q.Post(task)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	d := &delayed{task: task}
	q.timers[d] = time.AfterFunc(delay, func() { q.fire(d) })

	return true
}

// fire queues a delayed task unless Close already did.
func (q *Queue) fire(d *delayed) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.timers[d]; !ok {
		return
	}

	delete(q.timers, d)
	q.tasks = append(q.tasks, d.task)
	q.cond.Signal()
}

// Flush blocks until every task posted before the call has run, or ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !q.Post(func() { close(reached) }) {
		return ErrClosed
	}

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, moves pending delayed tasks to the end of the
// queue without waiting for their delay and waits for every queued task to
// finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true

		for d, timer := range q.timers {
			timer.Stop()
			q.tasks = append(q.tasks, d.task)
		}

		clear(q.timers)
		q.cond.Broadcast()
	}
	q.mu.Unlock()

	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}

		if len(q.tasks) == 0 {
			q.mu.Unlock()

			return
		}

		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.execute(task)
	}
}

func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	task()
}
