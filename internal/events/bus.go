// File: internal/events/bus.go
// Description: A minimal typed publish/subscribe channel. Each subscription
// returns an explicit unsubscribe handle, and one subscriber's panic never
// blocks delivery to the others.
package events

import "sync"

// Bus fans events out to registered subscribers. The zero value is not
// usable; construct with NewBus.
type Bus[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers a callback and returns its unsubscribe handle.
// Unsubscribing twice is harmless.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers the event to every current subscriber, in registration
// order is not guaranteed. Each callback runs isolated: a panic is recovered
// so the remaining subscribers still receive the event.
func (b *Bus[T]) Publish(ev T) {
	b.mu.Lock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		deliver(fn, ev)
	}
}

// Len reports the current subscriber count.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func deliver[T any](fn func(T), ev T) {
	defer func() {
		_ = recover()
	}()
	fn(ev)
}
