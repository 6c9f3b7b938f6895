package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/livesync/internal/broker"
)

// Connection is the one live broker subscription.
type Connection struct {
	OrganizationID string
	// Session identifies this subscription in logs and the journal.
	Session string
	Channel broker.Channel
}

// BindFunc builds the handler for a new subscription. It is called once
// per Subscribe, so every connection gets a fresh handler.
type BindFunc func(orgID, session string) broker.Handler

// ConnectionManager owns the single active subscription. Subscribing to
// a new organization always tears the old one down first: handlers are
// unbound, then the channel is unsubscribed.
//
// Subscribe and Unsubscribe must be called from the engine loop. Active
// is safe from any goroutine.
type ConnectionManager struct {
	broker   broker.Broker
	sessions SessionIDGenerator
	bind     BindFunc

	mu     sync.RWMutex
	active *Connection
}

// NewConnectionManager creates a manager with no active connection.
func NewConnectionManager(b broker.Broker, sessions SessionIDGenerator, bind BindFunc) *ConnectionManager {
	if sessions == nil {
		sessions = UUIDv7Generator{}
	}
	return &ConnectionManager{broker: b, sessions: sessions, bind: bind}
}

// Subscribe replaces the active connection with one for orgID.
//
// On a broker error the previous connection is already gone and none
// replaces it. The error is returned for logging; nothing retries.
func (m *ConnectionManager) Subscribe(ctx context.Context, orgID string) (Connection, error) {
	m.teardown(ctx)

	name := broker.ChannelName(orgID)
	ch, err := m.broker.Subscribe(ctx, name)
	if err != nil {
		slog.Error("subscribe failed", "org_id", orgID, "channel", name, "error", err)
		return Connection{}, fmt.Errorf("subscribe %s: %w", name, err)
	}

	conn := Connection{
		OrganizationID: orgID,
		Session:        m.sessions.Generate(),
		Channel:        ch,
	}
	ch.BindGlobal(m.bind(orgID, conn.Session))

	m.mu.Lock()
	m.active = &conn
	m.mu.Unlock()

	slog.Info("subscribed", "org_id", orgID, "channel", name, "session", conn.Session)
	return conn, nil
}

// Unsubscribe tears down the active connection. No-op when there is none.
func (m *ConnectionManager) Unsubscribe(ctx context.Context) {
	m.teardown(ctx)
}

// Active returns the current connection.
func (m *ConnectionManager) Active() (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return Connection{}, false
	}
	return *m.active, true
}

// ActiveOrganization returns the active connection's organization id, or
// "" when disconnected.
func (m *ConnectionManager) ActiveOrganization() string {
	conn, ok := m.Active()
	if !ok {
		return ""
	}
	return conn.OrganizationID
}

func (m *ConnectionManager) teardown(ctx context.Context) {
	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.mu.Unlock()

	if prev == nil {
		return
	}

	prev.Channel.UnbindAll()
	if err := m.broker.Unsubscribe(ctx, prev.Channel.Name()); err != nil {
		slog.Warn("unsubscribe failed", "org_id", prev.OrganizationID, "channel", prev.Channel.Name(), "error", err)
	}
	slog.Info("unsubscribed", "org_id", prev.OrganizationID, "session", prev.Session)
}
