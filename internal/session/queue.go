package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by enqueue operations after the queue has been
// drained or closed.
var ErrQueueClosed = errors.New("session: task queue closed")

// queueCapacity bounds the number of waiting tasks per call. Bursts beyond
// this are a sign the call is wedged; further enqueues fail fast.
const queueCapacity = 128

// duplicateWindow is how long an identical keyed task suppresses re-enqueue.
const duplicateWindow = 2 * time.Second

// Task is one unit of work executed by the queue's single worker.
type Task func(ctx context.Context)

// TaskQueue is the per-call FIFO executor guaranteeing at most one
// outstanding task at a time. Tasks run strictly in enqueue order; an error
// inside a task never affects the tasks behind it (tasks communicate failure
// through their own captures, not through the queue).
//
// All methods are safe for concurrent use.
type TaskQueue struct {
	tasks chan Task
	done  chan struct{}

	mu        sync.Mutex
	closed    bool
	lastKey   string
	lastKeyAt time.Time
	now       func() time.Time
}

// NewTaskQueue creates a queue and starts its worker. The worker stops when
// ctx is cancelled or the queue is closed, whichever comes first.
func NewTaskQueue(ctx context.Context) *TaskQueue {
	q := &TaskQueue{
		tasks: make(chan Task, queueCapacity),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go q.work(ctx)
	return q
}

// Enqueue appends a task. It never blocks: a full queue or a closed queue
// returns an error immediately.
func (q *TaskQueue) Enqueue(task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	default:
		return errors.New("session: task queue full")
	}
}

// EnqueueKeyed appends a task tagged with a deduplication key. A task whose
// key matches the previously enqueued key within the duplicate window is
// silently suppressed; ok reports whether the task was actually queued.
func (q *TaskQueue) EnqueueKeyed(key string, task Task) (ok bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	now := q.now()
	if key != "" && key == q.lastKey && now.Sub(q.lastKeyAt) < duplicateWindow {
		q.mu.Unlock()
		return false, nil
	}
	q.lastKey = key
	q.lastKeyAt = now
	q.mu.Unlock()

	if err := q.Enqueue(task); err != nil {
		return false, err
	}
	return true, nil
}

// Close drains the queue: no further tasks are accepted, queued tasks that
// have not started are dropped, and the in-flight task (if any) is left to
// finish. Idempotent.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Closed reports whether the queue has been closed.
func (q *TaskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *TaskQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case task := <-q.tasks:
			task(ctx)
		}
	}
}
