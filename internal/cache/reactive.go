// Package cache holds the in-memory, last-known-good state the UI reads.
//
// Reactive[T] is the generic store: Get, Set, Subscribe. Three caches are
// built on it: OrganizationCache, ChannelListCache and MessageCache. Each
// knows how to re-fetch itself from the API.
//
// Refresh is split in two. Load performs the round-trip and returns an
// apply closure; calling apply performs the single Set. The engine runs
// Load off its loop and apply on it, so every event-driven mutation has
// one writer. Refresh does both in the caller's goroutine for
// navigation-driven loads.
//
// Snapshots handed out by Get and to subscribers are never mutated after
// the fact: every write builds a new value.
package cache

import "sync"

// Reactive is a value with synchronous change notification.
// Safe for concurrent use; subscribers are called outside the lock, in
// subscription order, on the goroutine that called Set.
type Reactive[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   []subscriber[T]
	nextID int
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewReactive creates a store holding initial.
func NewReactive[T any](initial T) *Reactive[T] {
	return &Reactive[T]{value: initial}
}

// Get returns the current snapshot. Never blocks on a fetch.
func (r *Reactive[T]) Get() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set replaces the snapshot and notifies every subscriber.
func (r *Reactive[T]) Set(v T) {
	r.mu.Lock()
	r.value = v
	subs := make([]subscriber[T], len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Update sets fn(current). fn must not mutate its argument.
func (r *Reactive[T]) Update(fn func(T) T) {
	r.Set(fn(r.Get()))
}

// Subscribe registers fn and immediately calls it with the current
// snapshot. Earlier values are not replayed. The returned function
// removes the subscription and is safe to call more than once.
func (r *Reactive[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})
	current := r.value
	r.mu.Unlock()

	fn(current)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (r *Reactive[T]) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
