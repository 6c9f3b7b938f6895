package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Pusher protocol event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

// ProtocolVersion is the Pusher wire protocol spoken by Pusher.
const ProtocolVersion = 7

// DefaultHandshakeTimeout bounds the wait for connection_established.
const DefaultHandshakeTimeout = 10 * time.Second

const writeTimeout = 5 * time.Second

// PusherURL returns the hosted endpoint for an application key and
// cluster.
func PusherURL(key, cluster string) string {
	q := url.Values{}
	q.Set("protocol", fmt.Sprint(ProtocolVersion))
	q.Set("client", "livesync")
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?%s", cluster, url.PathEscape(key), q.Encode())
}

// PusherConfig configures DialPusher.
type PusherConfig struct {
	// URL is the full WebSocket endpoint. When empty it is built from Key
	// and Cluster with PusherURL.
	URL     string
	Key     string
	Cluster string

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

func (c PusherConfig) endpoint() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Key == "" || c.Cluster == "" {
		return "", errors.New("pusher: URL or Key and Cluster required")
	}
	return PusherURL(c.Key, c.Cluster), nil
}

// frame is one Pusher protocol message. Server to client, data is a
// JSON-encoded string; client to server, it is an object.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type protocolError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Pusher is a Broker over one Pusher Channels WebSocket connection.
// Subscriptions are public channels; there is no authentication and no
// reconnect. Once the connection drops, Done is closed and Err reports
// why.
//
// Thread-safety: all methods are safe for concurrent use. Handlers run
// on the connection's read goroutine.
type Pusher struct {
	conn     *websocket.Conn
	socketID string

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*channel

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// DialPusher connects and waits for pusher:connection_established.
func DialPusher(ctx context.Context, cfg PusherConfig) (*Pusher, error) {
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pusher: dial %s: %w", endpoint, err)
	}

	established, err := awaitEstablished(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := &Pusher{
		conn:     conn,
		socketID: established.SocketID,
		channels: make(map[string]*channel),
		done:     make(chan struct{}),
	}
	slog.Info("pusher connected",
		"socket_id", established.SocketID,
		"activity_timeout", established.ActivityTimeout,
	)

	go p.readLoop()
	return p, nil
}

func awaitEstablished(conn *websocket.Conn, timeout time.Duration) (connectionEstablished, error) {
	var out connectionEstablished
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return out, fmt.Errorf("pusher: set deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return out, fmt.Errorf("pusher: read handshake: %w", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return out, fmt.Errorf("pusher: decode handshake: %w", err)
	}
	data := unwrapData(f.Data)

	switch f.Event {
	case EventConnectionEstablished:
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("pusher: decode connection_established: %w", err)
		}
		return out, nil
	case EventError:
		var pe protocolError
		_ = json.Unmarshal(data, &pe)
		return out, fmt.Errorf("pusher: handshake rejected: %s (code %d)", pe.Message, pe.Code)
	default:
		return out, fmt.Errorf("pusher: unexpected handshake event %q", f.Event)
	}
}

// SocketID returns the id the server assigned to this connection.
func (p *Pusher) SocketID() string { return p.socketID }

// Subscribe opens a public channel. Subscribing to an open channel
// returns it unchanged.
func (p *Pusher) Subscribe(_ context.Context, name string) (Channel, error) {
	p.mu.Lock()
	if ch, ok := p.channels[name]; ok {
		p.mu.Unlock()
		return ch, nil
	}
	ch := newChannel(name)
	p.channels[name] = ch
	p.mu.Unlock()

	if err := p.send(EventSubscribe, map[string]string{"channel": name}); err != nil {
		p.mu.Lock()
		delete(p.channels, name)
		p.mu.Unlock()
		return nil, err
	}
	slog.Debug("pusher subscribe sent", "channel", name)
	return ch, nil
}

// Unsubscribe closes a channel. Events already in flight for it are
// dropped.
func (p *Pusher) Unsubscribe(_ context.Context, name string) error {
	p.mu.Lock()
	_, ok := p.channels[name]
	delete(p.channels, name)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.send(EventUnsubscribe, map[string]string{"channel": name})
}

// Close sends a close frame and shuts the connection down.
func (p *Pusher) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	p.writeMu.Unlock()
	err := p.conn.Close()
	p.fail(net.ErrClosed)
	return err
}

// Done is closed when the connection ends.
func (p *Pusher) Done() <-chan struct{} { return p.done }

// Err returns why the connection ended, or nil while it is open.
func (p *Pusher) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Pusher) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Pusher) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("pusher: encode %s: %w", event, err)
	}
	msg, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("pusher: encode %s: %w", event, err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("pusher: set deadline: %w", err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("pusher: write %s: %w", event, err)
	}
	return nil
}

func (p *Pusher) readLoop() {
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				slog.Info("pusher connection closed")
			} else {
				slog.Error("pusher read failed", "error", err)
			}
			p.fail(err)
			return
		}
		p.handleFrame(msg)
	}
}

func (p *Pusher) handleFrame(msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		slog.Warn("pusher frame not JSON", "error", err)
		return
	}
	data := unwrapData(f.Data)

	switch f.Event {
	case EventPing:
		if err := p.send(EventPong, struct{}{}); err != nil {
			slog.Warn("pusher pong failed", "error", err)
		}
		return
	case EventError:
		var pe protocolError
		_ = json.Unmarshal(data, &pe)
		slog.Warn("pusher error", "message", pe.Message, "code", pe.Code)
		return
	}

	if f.Channel == "" {
		slog.Debug("pusher connection event", "event", f.Event)
		return
	}

	p.mu.Lock()
	ch, ok := p.channels[f.Channel]
	p.mu.Unlock()
	if !ok {
		slog.Debug("pusher event for closed channel", "channel", f.Channel, "event", f.Event)
		return
	}
	ch.emit(f.Event, data)
}

// unwrapData returns the JSON document inside a frame's data field. The
// server double-encodes it as a string; a bare object is passed through.
func unwrapData(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return trimmed
	}
	return []byte(s)
}
