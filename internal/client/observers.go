package client

import (
	"slices"
	"sync"
)

// observers holds handlers in registration order.
type observers[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []observer[T]
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// add registers fn and returns a func that removes it. Removing twice is a no-op.
func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.entries = append(o.entries, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = slices.DeleteFunc(o.entries, func(e observer[T]) bool { return e.id == id })
}

// emit calls every handler registered at the time of the call.
// Handlers may register or remove observers while running.
func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	entries := slices.Clone(o.entries)
	o.mu.Unlock()

	for _, e := range entries {
		e.fn(v)
	}
}
