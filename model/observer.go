package model

import "sync"

// MaxObserverQueueSize is the bounded capacity of BoundedObserver's event
// queue: a FIFO of length 10, dropping the oldest element on overflow.
const MaxObserverQueueSize = 10

// Observer is the capability interface the engine pushes events through.
// PushEvent must be non-blocking — BoundedObserver satisfies that by
// dropping the oldest queued event rather than blocking or growing
// without bound.
type Observer interface {
	PushEvent(Event)
}

// BoundedObserver is the engine's default Observer: a mutex-guarded ring
// of at most MaxObserverQueueSize events, drained with PopEvents. It plays
// the role the ai_vox::Observer base class plays in the original engine.
type BoundedObserver struct {
	mu     sync.Mutex
	events []Event
}

func NewBoundedObserver() *BoundedObserver {
	return &BoundedObserver{}
}

// PushEvent appends an event, dropping the oldest queued event if the
// queue is already at capacity. Never blocks.
func (o *BoundedObserver) PushEvent(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.events) >= MaxObserverQueueSize {
		o.events = o.events[1:]
	}
	o.events = append(o.events, e)
}

// PopEvents atomically drains and returns every queued event.
func (o *BoundedObserver) PopEvents() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.events) == 0 {
		return nil
	}
	out := o.events
	o.events = nil
	return out
}
