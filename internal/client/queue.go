package client

import "sync"

// eventQueue is the unbounded FIFO feeding a session's event loop.
// push never blocks so public methods stay non-blocking.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	ready  chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

// push appends ev. It reports false once the loop has shut the queue.
func (q *eventQueue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an event is available.
func (q *eventQueue) pop() event {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev
		}
		q.mu.Unlock()
		<-q.ready
	}
}

// close rejects further pushes and returns what was still queued.
func (q *eventQueue) close() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}
