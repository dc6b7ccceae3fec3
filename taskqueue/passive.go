package taskqueue

import (
	"container/heap"
	"sync"
	"time"
)

// PassiveQueue is the same time-ordered queue as ActiveQueue but has no
// consumer goroutine of its own: the host drives progress by calling
// Process, which runs at most one ready task. Standing in for the
// original's PassiveTaskQueue, used where a single-threaded embedding
// wants to pump the queue itself.
type PassiveQueue struct {
	mu    sync.Mutex
	tasks taskHeap
	order uint64
}

func NewPassiveQueue() *PassiveQueue {
	return &PassiveQueue{}
}

func (q *PassiveQueue) Enqueue(fn Func) { q.enqueue(nil, time.Now(), fn) }

func (q *PassiveQueue) EnqueueAt(at time.Time, fn Func) { q.enqueue(nil, at, fn) }

func (q *PassiveQueue) EnqueueWithID(id uint64, fn Func) { q.enqueue(&id, time.Now(), fn) }

func (q *PassiveQueue) EnqueueAtWithID(id uint64, at time.Time, fn Func) { q.enqueue(&id, at, fn) }

func (q *PassiveQueue) enqueue(id *uint64, at time.Time, fn Func) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &task{order: q.order, at: at, id: id, fn: fn}
	q.order++
	heap.Push(&q.tasks, t)
}

func (q *PassiveQueue) Erase(id uint64) {
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

func (q *PassiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Process pops and runs the single earliest ready task, if any is due. It
// is a no-op if the queue is empty or the earliest task isn't due yet.
// Returns whether a task ran.
func (q *PassiveQueue) Process() bool {
	q.mu.Lock()
	if len(q.tasks) == 0 || q.tasks[0].at.After(time.Now()) {
		q.mu.Unlock()
		return false
	}
	t := heap.Pop(&q.tasks).(*task)
	q.mu.Unlock()
	t.fn()
	return true
}
