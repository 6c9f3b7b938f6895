// Package broker is the publish/subscribe side of livesync.
//
// A Broker hands out Channels by name. Each Channel fans every event it
// receives out to the handlers bound with BindGlobal, in bind order.
// Delivery reliability (reconnect, heartbeat) belongs to the transport,
// not to the engine.
//
// Two implementations live here: Pusher speaks the Pusher Channels
// protocol over a WebSocket, Memory delivers in-process for tests and
// scenario runs.
package broker

import (
	"context"
	"sync"
)

// ChannelPrefix is prepended to an organization id to name its channel.
const ChannelPrefix = "organisation-"

// ChannelName returns the channel carrying orgID's change notifications.
func ChannelName(orgID string) string {
	return ChannelPrefix + orgID
}

// Handler receives every event published on a channel. data is the
// event's JSON payload.
type Handler func(event string, data []byte)

// Channel is one subscription.
type Channel interface {
	Name() string

	// BindGlobal registers h for every event on the channel, broker
	// internal events included.
	BindGlobal(h Handler)

	// UnbindAll removes every registered handler.
	UnbindAll()
}

// Broker opens and closes subscriptions.
type Broker interface {
	Subscribe(ctx context.Context, name string) (Channel, error)
	Unsubscribe(ctx context.Context, name string) error
}

// channel is the handler registry shared by both brokers.
type channel struct {
	name     string
	mu       sync.Mutex
	handlers []Handler
}

func newChannel(name string) *channel {
	return &channel{name: name}
}

func (c *channel) Name() string { return c.name }

func (c *channel) BindGlobal(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *channel) UnbindAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = nil
}

// emit calls every bound handler outside the lock and returns how many
// were called.
func (c *channel) emit(event string, data []byte) int {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(event, data)
	}
	return len(handlers)
}
