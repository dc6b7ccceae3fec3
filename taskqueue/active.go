package taskqueue

import (
	"container/heap"
	"sync"
	"time"
)

// ActiveQueue is a time-ordered work queue with a dedicated consumer
// goroutine, standing in for the original's ActiveTaskQueue (a FreeRTOS
// task blocked on a condition variable). The engine owns two of these:
// one serialising state-machine transitions, one serialising outbound
// WebSocket sends and the config fetch.
type ActiveQueue struct {
	mu    sync.Mutex
	tasks taskHeap
	order uint64

	wake chan struct{}
	done chan struct{}
	stop sync.Once
}

// NewActiveQueue creates a queue and starts its consumer goroutine. name is
// purely diagnostic (it plays the role of the FreeRTOS task name the
// original passes to ActiveTaskQueue's constructor).
func NewActiveQueue(name string) *ActiveQueue {
	q := &ActiveQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue schedules fn to run as soon as the queue reaches it, FIFO among
// tasks scheduled for the same instant. Enqueue never blocks.
func (q *ActiveQueue) Enqueue(fn Func) {
	q.enqueue(nil, time.Now(), fn)
}

// EnqueueAt schedules fn to run no earlier than at.
func (q *ActiveQueue) EnqueueAt(at time.Time, fn Func) {
	q.enqueue(nil, at, fn)
}

// EnqueueWithID schedules fn like Enqueue but tags it with id so it can
// later be cancelled with Erase.
func (q *ActiveQueue) EnqueueWithID(id uint64, fn Func) {
	q.enqueue(&id, time.Now(), fn)
}

// EnqueueAtWithID combines EnqueueAt and EnqueueWithID.
func (q *ActiveQueue) EnqueueAtWithID(id uint64, at time.Time, fn Func) {
	q.enqueue(&id, at, fn)
}

func (q *ActiveQueue) enqueue(id *uint64, at time.Time, fn Func) {
	q.mu.Lock()
	t := &task{order: q.order, at: at, id: id, fn: fn}
	q.order++
	heap.Push(&q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Erase removes every queued task (not yet popped) tagged with id. O(n).
func (q *ActiveQueue) Erase(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept taskHeap
	for _, t := range q.tasks {
		if t.id != nil && *t.id == id {
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	heap.Init(&q.tasks)
}

// Len returns the number of tasks not yet run, used by the engine's
// backpressure policy: drop audio frames once the network queue depth
// exceeds 5.
func (q *ActiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Stop halts the consumer goroutine after it finishes the task currently
// running, if any. Queued-but-not-started tasks are discarded. Idempotent.
func (q *ActiveQueue) Stop() {
	q.stop.Do(func() { close(q.done) })
}

func (q *ActiveQueue) loop() {
	for {
		select {
		case <-q.done:
			return
		default:
		}

		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		earliest := q.tasks[0].at
		now := time.Now()
		if earliest.After(now) {
			q.mu.Unlock()
			timer := time.NewTimer(earliest.Sub(now))
			select {
			case <-timer.C:
			case <-q.wake:
				timer.Stop()
			case <-q.done:
				timer.Stop()
				return
			}
			continue
		}

		t := heap.Pop(&q.tasks).(*task)
		q.mu.Unlock()
		t.fn()
	}
}
