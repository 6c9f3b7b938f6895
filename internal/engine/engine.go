package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/livesync/internal/api"
	"github.com/roach88/livesync/internal/broker"
	"github.com/roach88/livesync/internal/cache"
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/notify"
)

// Journal receives a row per processed event. Implemented by
// *journal.Journal.
type Journal interface {
	OpenSession(ctx context.Context, s journal.Session) error
	Append(ctx context.Context, e journal.Entry) error
}

// Engine is the single-writer synchronization loop.
//
// CRITICAL: every event-driven cache write, every UI request and every
// subscription change happens in the Run goroutine. Other goroutines
// submit work with Open, Close, ViewChannel and broker deliveries, all of
// which enqueue.
//
// Fetches are the exception: they run on their own goroutines so the
// loop never waits on the network. Their results come back as
// completions and are applied on the loop, or discarded if the
// organization they were fetched for is no longer active.
//
// Thread-safety model:
//   - Open, Close, ViewChannel, Drain, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - cache getters and Subscribe: safe from any goroutine
type Engine struct {
	principal string
	clock     *Clock
	queue     *eventQueue
	conn      *ConnectionManager

	org      *cache.OrganizationCache
	channels *cache.ChannelListCache
	messages *cache.MessageCache

	ui      notify.UI
	policy  Policy
	journal Journal

	sessions SessionIDGenerator
	pageSize int

	// pending counts queued events plus fetches in flight.
	pending atomic.Int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPolicy sets the notification policy.
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithPageSize sets how many messages a channel refresh requests.
// Default: api.DefaultPageSize.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) { e.pageSize = n }
}

// WithJournal records every processed event to j.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithSessionIDGenerator sets how subscriptions are named.
// Default: UUIDv7Generator.
func WithSessionIDGenerator(g SessionIDGenerator) EngineOption {
	return func(e *Engine) { e.sessions = g }
}

// New creates an engine for principalID. ui may be nil, in which case
// notifications and errors are discarded.
func New(principalID string, b broker.Broker, f api.Fetcher, ui notify.UI, opts ...EngineOption) *Engine {
	if ui == nil {
		ui = notify.Discard
	}

	e := &Engine{
		principal: principalID,
		clock:     NewClock(),
		queue:     newEventQueue(),
		ui:        ui,
		sessions:  UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(e)
	}

	deps := cache.Deps{Fetcher: f, Reporter: ui}
	e.org = cache.NewOrganizationCache(deps)
	e.channels = cache.NewChannelListCache(deps)
	e.messages = cache.NewMessageCache(deps, e.pageSize)
	e.conn = NewConnectionManager(b, e.sessions, e.bind)

	return e
}

// Organization returns the organization cache.
func (e *Engine) Organization() *cache.OrganizationCache { return e.org }

// Channels returns the channel list cache.
func (e *Engine) Channels() *cache.ChannelListCache { return e.channels }

// Messages returns the message cache.
func (e *Engine) Messages() *cache.MessageCache { return e.messages }

// Active returns the current connection.
func (e *Engine) Active() (Connection, bool) { return e.conn.Active() }

// Principal returns the id whose own events are suppressed.
func (e *Engine) Principal() string { return e.principal }

// Open switches the engine to orgID: the subscription is replaced, the
// caches are cleared if the organization changed, and the organization
// and channel list are loaded. Runs on the loop; returns ErrStopped if
// the engine has stopped.
func (e *Engine) Open(orgID string) error {
	return e.submit(func(ctx context.Context) error { return e.open(ctx, orgID) })
}

// Close drops the active subscription.
func (e *Engine) Close() error {
	return e.submit(func(ctx context.Context) error {
		e.conn.Unsubscribe(ctx)
		return nil
	})
}

// ViewChannel loads channelID's messages unless they are already cached.
func (e *Engine) ViewChannel(channelID string) error {
	return e.submit(func(ctx context.Context) error {
		orgID := e.conn.ActiveOrganization()
		if orgID == "" {
			return fmt.Errorf("view channel %s: no active organization", channelID)
		}
		e.refreshMessages(ctx, orgID, channelID, false)
		return nil
	})
}

// Drain blocks until the queue is empty and no fetch is in flight.
func (e *Engine) Drain(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		if e.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: a failed event is logged with its context and the loop
// continues. Nothing is retried; the next event or navigation triggers a
// fresh fetch.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "principal_id", e.principal)

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			e.pending.Add(-1)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Close, which makes this
			// case fire immediately.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once it has processed what was
// already queued.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) submit(task func(ctx context.Context) error) error {
	if !e.enqueue(Event{Type: EventTypeTask, Task: task}) {
		return ErrStopped
	}
	return nil
}

func (e *Engine) enqueue(ev Event) bool {
	e.pending.Add(1)
	if !e.queue.Enqueue(ev) {
		e.pending.Add(-1)
		return false
	}
	return true
}

// processEvent routes an event to its handler.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeDelivery:
		if event.Delivery == nil {
			return errors.New("delivery event missing delivery data")
		}
		return e.processDelivery(ctx, event.Delivery)

	case EventTypeCompletion:
		if event.Completion == nil {
			return errors.New("completion event missing completion data")
		}
		return e.processCompletion(event.Completion)

	case EventTypeTask:
		if event.Task == nil {
			return errors.New("task event missing task")
		}
		return event.Task(ctx)

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (e *Engine) processDelivery(ctx context.Context, d *Delivery) error {
	out := d.Router.Handle(ctx, d.Name, d.Data)

	if out.Applied() {
		slog.Debug("event applied",
			"event", out.Event,
			"entity_id", out.EntityID,
			"org_id", out.OrgID,
			"seq", out.Seq,
			"effects", out.Effects,
		)
	} else {
		slog.Debug("event dropped",
			"event", out.Event,
			"org_id", out.OrgID,
			"seq", out.Seq,
			"reason", out.Result(),
			"error", out.Err,
		)
	}

	if e.journal == nil {
		return nil
	}
	entry := journal.Entry{
		Session:  out.Session,
		Seq:      out.Seq,
		OrgID:    out.OrgID,
		Event:    out.Event,
		EntityID: out.EntityID,
		Hash:     out.Hash,
		Outcome:  out.Result(),
		Effects:  out.Effects,
	}
	var de *DropError
	if errors.As(out.Err, &de) && de.Err != nil {
		entry.Detail = de.Err.Error()
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		return fmt.Errorf("journal %s#%d: %w", out.Event, out.Seq, err)
	}
	return nil
}

// processCompletion applies a finished fetch if its organization is
// still active. A failed fetch leaves the cache as it was and reports
// the failure to the UI.
func (e *Engine) processCompletion(c *Completion) error {
	if active := e.conn.ActiveOrganization(); active != c.OrgID {
		slog.Debug("discarding stale refresh",
			"cache", c.Cache,
			"org_id", c.OrgID,
			"active_org_id", active,
			"channel_id", c.ChannelID,
		)
		return nil
	}

	if c.Err != nil {
		cache.Report(e.ui, c.Err)
		return fmt.Errorf("refresh %s: %w", c.Cache, c.Err)
	}

	if c.Apply != nil {
		c.Apply()
	}
	return nil
}

func (e *Engine) open(ctx context.Context, orgID string) error {
	prev := e.conn.ActiveOrganization()

	if _, err := e.conn.Subscribe(ctx, orgID); err != nil {
		return err
	}

	if prev != orgID {
		e.org.Reset()
		e.channels.Reset()
		e.messages.Reset()
	}

	e.refreshOrganization(ctx, orgID)
	e.load(ctx, "channels", orgID, "", func(ctx context.Context) (func(), error) {
		return e.channels.Load(ctx, orgID)
	})
	return nil
}

func (e *Engine) refreshOrganization(ctx context.Context, orgID string) {
	e.load(ctx, "organization", orgID, "", func(ctx context.Context) (func(), error) {
		return e.org.Load(ctx, orgID)
	})
}

func (e *Engine) refreshMessages(ctx context.Context, orgID, channelID string, force bool) {
	e.load(ctx, "messages", orgID, channelID, func(ctx context.Context) (func(), error) {
		return e.messages.Load(ctx, orgID, channelID, force)
	})
}

// load runs fetch on its own goroutine and enqueues the result as a
// completion. Overlapping loads of the same cache are allowed; the last
// to complete wins.
func (e *Engine) load(ctx context.Context, what, orgID, channelID string, fetch func(context.Context) (func(), error)) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Add(-1)

		apply, err := fetch(ctx)
		if err != nil {
			slog.Warn("fetch failed",
				"cache", what,
				"org_id", orgID,
				"channel_id", channelID,
				"error", err,
			)
		}
		if !e.enqueue(Event{
			Type: EventTypeCompletion,
			Completion: &Completion{
				Cache:     what,
				OrgID:     orgID,
				ChannelID: channelID,
				Apply:     apply,
				Err:       err,
			},
		}) {
			slog.Debug("completion after stop", "cache", what, "org_id", orgID)
		}
	}()
}

// inScope reports whether an event a router bound to routerOrg received
// for target may touch the caches. The router's organization must be the
// active one, the event must target it, and the organization cache, once
// loaded, must hold it.
func (e *Engine) inScope(routerOrg, target string) bool {
	if e.conn.ActiveOrganization() != routerOrg || target != routerOrg {
		return false
	}
	if id := e.org.ID(); id != "" && id != routerOrg {
		return false
	}
	return true
}

// bind builds the handler for a new subscription and opens its journal
// session.
func (e *Engine) bind(orgID, session string) broker.Handler {
	if e.journal != nil {
		s := journal.Session{ID: session, OrgID: orgID, PrincipalID: e.principal}
		if err := e.journal.OpenSession(context.Background(), s); err != nil {
			slog.Error("journal session failed", "session", session, "error", err)
		}
	}
	r := &Router{engine: e, orgID: orgID, principal: e.principal, session: session}
	return r.deliver
}

// logEventError logs a failed event with enough context to find it in
// the journal.
func logEventError(event Event, err error) {
	attrs := []any{"type", event.Type.String(), "error", err}
	switch {
	case event.Delivery != nil:
		attrs = append(attrs, "event", event.Delivery.Name, "org_id", event.Delivery.Router.OrgID())
	case event.Completion != nil:
		attrs = append(attrs,
			"cache", event.Completion.Cache,
			"org_id", event.Completion.OrgID,
			"channel_id", event.Completion.ChannelID,
		)
	}
	slog.Error("event processing failed", attrs...)
}
