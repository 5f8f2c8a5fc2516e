// Package event provides a small observer registry used by the transport and the chat
// session to fan events out to subscribers.
package event

import "sync"

// Registry holds subscribers for events of type T. Emit delivers to a snapshot of the
// subscribers, so a handler may unsubscribe itself (or others) while being called.
type Registry[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// Subscribe registers fn and returns a function that removes it. The returned function is
// safe to call more than once.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	r.mu.Lock()
	if r.subs == nil {
		r.subs = make(map[uint64]func(T))
	}
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

// Emit calls every current subscriber in subscription order.
func (r *Registry[T]) Emit(ev T) {
	r.mu.RLock()
	handlers := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		if fn, ok := r.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Len reports the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Clear drops every subscriber.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.subs = nil
	r.order = nil
	r.mu.Unlock()
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}
