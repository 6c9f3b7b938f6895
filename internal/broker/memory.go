package broker

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Broker. Publish delivers synchronously on the
// caller's goroutine. It records every Subscribe and Unsubscribe so tests
// can check the connection lifecycle.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	channels map[string]*channel
	ops      []string
}

// NewMemory creates a broker with no subscriptions.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]*channel)}
}

// Subscribe opens name. Subscribing twice returns the existing channel.
func (m *Memory) Subscribe(_ context.Context, name string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "subscribe:"+name)
	if ch, ok := m.channels[name]; ok {
		return ch, nil
	}
	ch := newChannel(name)
	m.channels[name] = ch
	return ch, nil
}

// Unsubscribe closes name. Unknown names are ignored.
func (m *Memory) Unsubscribe(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "unsubscribe:"+name)
	delete(m.channels, name)
	return nil
}

// Publish delivers (event, data) to the handlers bound on name and
// returns how many were called. Publishing to a channel nobody is
// subscribed to delivers nothing.
func (m *Memory) Publish(name, event string, data []byte) int {
	m.mu.Lock()
	ch, ok := m.channels[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return ch.emit(event, data)
}

// Subscribed returns the open channel names, sorted.
func (m *Memory) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ops returns the recorded "subscribe:<name>" / "unsubscribe:<name>"
// calls in order.
func (m *Memory) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}
