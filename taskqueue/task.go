// Package taskqueue implements the engine's time-ordered, single-consumer
// work queues, grounded on
// original_source/src/components/task_queue/{active,passive}_task_queue.h.
// Go has no built-in priority queue or condition variable quite like
// FreeRTOS's, so both variants are reexpressed over container/heap plus
// sync.Mutex and a buffered wakeup channel (ActiveQueue) or a plain
// heap.Pop (PassiveQueue).
package taskqueue

import (
	"container/heap"
	"time"
)

// Func is the closure a queued task runs.
type Func func()

type task struct {
	order    uint64
	at       time.Time
	id       *uint64
	fn       Func
	heapIdx  int
}

// taskHeap orders by (scheduled time, order) ascending, matching the
// original's Task::operator> used with std::greater<> for a min-heap.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].order < h[j].order
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*h = old[:n-1]
	return t
}

var _ = heap.Interface(&taskHeap{})
