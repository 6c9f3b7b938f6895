package engine

import (
	"context"
	"sync"
)

// EventType distinguishes the work items of the loop.
type EventType int

const (
	// EventTypeDelivery is a raw broker event for a router.
	EventTypeDelivery EventType = iota + 1
	// EventTypeCompletion is a finished off-loop fetch.
	EventTypeCompletion
	// EventTypeTask is a caller-submitted operation (subscribe, navigate).
	EventTypeTask
)

func (t EventType) String() string {
	switch t {
	case EventTypeDelivery:
		return "delivery"
	case EventTypeCompletion:
		return "completion"
	case EventTypeTask:
		return "task"
	}
	return "unknown"
}

// Delivery is one broker event as received.
type Delivery struct {
	Router *Router
	Name   string
	Data   []byte
}

// Completion is the result of a cache Load run off the loop.
type Completion struct {
	// Cache names the cache being refreshed ("organization", "channels",
	// "messages").
	Cache string

	// OrgID is the organization the fetch was issued for. The result is
	// discarded if it is no longer active.
	OrgID string

	// ChannelID is set for message refreshes.
	ChannelID string

	Apply func()
	Err   error
}

// Event wraps the loop's work items. Exactly one of Delivery, Completion
// and Task is set, matching Type.
type Event struct {
	Type       EventType
	Delivery   *Delivery
	Completion *Completion
	Task       func(ctx context.Context) error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded: broker deliveries and fetch completions never
// block their producers. The Run loop is the only consumer.
//
// The signal channel enables context-aware waiting in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// A buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so payloads and closures can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. It
// is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
