package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/livesync/internal/api"
	"github.com/roach88/livesync/internal/model"
	"github.com/roach88/livesync/internal/notify"
)

// ErrorReporter receives user-facing fetch failure messages.
type ErrorReporter = notify.ErrorReporter

// Report sends err's user-facing text to r: the API's own message for a
// non-2xx response, the error text otherwise.
func Report(r ErrorReporter, err error) {
	var se *api.StatusError
	if errors.As(err, &se) {
		r.ReportError(se.Message)
		return
	}
	r.ReportError(err.Error())
}

// Deps are the collaborators shared by all three caches.
type Deps struct {
	Fetcher  api.Fetcher
	Reporter ErrorReporter
}

func (d Deps) reporter() ErrorReporter {
	if d.Reporter == nil {
		return notify.Discard
	}
	return d.Reporter
}

// ---------------------------------------------------------------------------
// Organization

// OrganizationCache holds the currently viewed organization, or nil.
type OrganizationCache struct {
	*Reactive[*model.Organization]
	deps Deps
}

// NewOrganizationCache creates an empty cache.
func NewOrganizationCache(deps Deps) *OrganizationCache {
	return &OrganizationCache{
		Reactive: NewReactive[*model.Organization](nil),
		deps:     deps,
	}
}

// ID returns the cached organization's id, or "" when empty.
func (c *OrganizationCache) ID() string {
	if org := c.Get(); org != nil {
		return org.ID
	}
	return ""
}

// Load fetches the organization. On success the returned apply sets it.
func (c *OrganizationCache) Load(ctx context.Context, orgID string) (apply func(), err error) {
	var org model.Organization
	if err := api.Get(ctx, c.deps.Fetcher, api.OrganizationPath(orgID), &org); err != nil {
		return nil, err
	}
	if org.ID == "" {
		org.ID = orgID
	}
	return func() { c.Set(&org) }, nil
}

// Refresh re-fetches and sets the organization. Failures leave the cache
// unchanged and are reported; the error is returned for logging only.
func (c *OrganizationCache) Refresh(ctx context.Context, orgID string) error {
	return refresh(c.deps.reporter(), "organization", func() (func(), error) {
		return c.Load(ctx, orgID)
	})
}

// Reset empties the cache.
func (c *OrganizationCache) Reset() { c.Set(nil) }

// ---------------------------------------------------------------------------
// Channel list

// ChannelListCache holds the channels of the current organization in
// insertion order.
type ChannelListCache struct {
	*Reactive[[]model.Channel]
	deps Deps
}

// NewChannelListCache creates an empty cache.
func NewChannelListCache(deps Deps) *ChannelListCache {
	return &ChannelListCache{
		Reactive: NewReactive[[]model.Channel](nil),
		deps:     deps,
	}
}

type channelsBody struct {
	Channels []model.Channel `json:"channels"`
}

// Load fetches the channel list. On success apply replaces it.
func (c *ChannelListCache) Load(ctx context.Context, orgID string) (apply func(), err error) {
	var body channelsBody
	if err := api.Get(ctx, c.deps.Fetcher, api.ChannelsPath(orgID), &body); err != nil {
		return nil, err
	}
	channels := body.Channels
	if channels == nil {
		channels = []model.Channel{}
	}
	return func() { c.Set(channels) }, nil
}

// Refresh re-fetches and sets the channel list.
func (c *ChannelListCache) Refresh(ctx context.Context, orgID string) error {
	return refresh(c.deps.reporter(), "channels", func() (func(), error) {
		return c.Load(ctx, orgID)
	})
}

// Find returns the channel with id.
func (c *ChannelListCache) Find(id string) (model.Channel, bool) {
	for _, ch := range c.Get() {
		if ch.ID == id {
			return ch, true
		}
	}
	return model.Channel{}, false
}

// Append adds ch at the end of the list.
func (c *ChannelListCache) Append(ch model.Channel) {
	c.Update(func(list []model.Channel) []model.Channel {
		out := make([]model.Channel, 0, len(list)+1)
		out = append(out, list...)
		return append(out, ch)
	})
}

// Replace swaps the entry whose id matches ch.ID in place. Reports false,
// and notifies nobody, when no entry matches.
func (c *ChannelListCache) Replace(ch model.Channel) bool {
	list := c.Get()
	for i := range list {
		if list[i].ID == ch.ID {
			out := make([]model.Channel, len(list))
			copy(out, list)
			out[i] = ch
			c.Set(out)
			return true
		}
	}
	return false
}

// Remove drops every entry with id. Reports whether one was removed.
func (c *ChannelListCache) Remove(id string) bool {
	list := c.Get()
	out := make([]model.Channel, 0, len(list))
	for _, ch := range list {
		if ch.ID != id {
			out = append(out, ch)
		}
	}
	if len(out) == len(list) {
		return false
	}
	c.Set(out)
	return true
}

// Reset empties the list.
func (c *ChannelListCache) Reset() { c.Set(nil) }

// ---------------------------------------------------------------------------
// Messages

// LastSeen records the newest message id of a fetched channel. An empty
// ID means the channel was fetched and had no messages; a channel absent
// from the map was never fetched.
type LastSeen struct {
	ID string
}

// MessageCache maps channel id to its newest-first message list.
// Lists are only ever replaced whole.
type MessageCache struct {
	*Reactive[map[string][]model.Message]
	last     *Reactive[map[string]LastSeen]
	deps     Deps
	pageSize int
}

// NewMessageCache creates an empty cache fetching pageSize messages per
// channel. pageSize <= 0 means api.DefaultPageSize.
func NewMessageCache(deps Deps, pageSize int) *MessageCache {
	if pageSize <= 0 {
		pageSize = api.DefaultPageSize
	}
	return &MessageCache{
		Reactive: NewReactive(map[string][]model.Message{}),
		last:     NewReactive(map[string]LastSeen{}),
		deps:     deps,
		pageSize: pageSize,
	}
}

// Messages returns the cached list for channelID and whether the channel
// has been fetched.
func (c *MessageCache) Messages(channelID string) ([]model.Message, bool) {
	list, ok := c.Get()[channelID]
	return list, ok
}

// Has reports whether channelID has a cached entry.
func (c *MessageCache) Has(channelID string) bool {
	_, ok := c.Get()[channelID]
	return ok
}

// LastMessage returns the newest message id for channelID. fetched is
// false when the channel was never loaded; id is "" when it was loaded
// empty.
func (c *MessageCache) LastMessage(channelID string) (id string, fetched bool) {
	seen, ok := c.last.Get()[channelID]
	return seen.ID, ok
}

// SubscribeLast observes the newest-message tracker.
func (c *MessageCache) SubscribeLast(fn func(map[string]LastSeen)) func() {
	return c.last.Subscribe(fn)
}

// Load fetches channelID's newest page. With force false and a cached
// entry present it returns (nil, nil) without fetching.
func (c *MessageCache) Load(ctx context.Context, orgID, channelID string, force bool) (apply func(), err error) {
	if !force && c.Has(channelID) {
		return nil, nil
	}

	path := api.MessagesPath(orgID, channelID, 0, c.pageSize)
	var raw json.RawMessage
	if err := api.Get(ctx, c.deps.Fetcher, path, &raw); err != nil {
		return nil, err
	}
	messages, err := decodeMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	return func() { c.apply(channelID, messages) }, nil
}

// Refresh loads and applies channelID's messages. See Load for the
// force semantics.
func (c *MessageCache) Refresh(ctx context.Context, orgID, channelID string, force bool) error {
	return refresh(c.deps.reporter(), "messages", func() (func(), error) {
		return c.Load(ctx, orgID, channelID, force)
	})
}

func (c *MessageCache) apply(channelID string, messages []model.Message) {
	seen := LastSeen{}
	if len(messages) > 0 {
		seen.ID = messages[0].ID
	}

	c.Update(func(m map[string][]model.Message) map[string][]model.Message {
		out := make(map[string][]model.Message, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[channelID] = messages
		return out
	})
	c.last.Update(func(m map[string]LastSeen) map[string]LastSeen {
		out := make(map[string]LastSeen, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[channelID] = seen
		return out
	})
}

// Reset drops every cached channel.
func (c *MessageCache) Reset() {
	c.Set(map[string][]model.Message{})
	c.last.Set(map[string]LastSeen{})
}

// decodeMessages accepts a bare array or {"messages": [...]}.
func decodeMessages(raw json.RawMessage) ([]model.Message, error) {
	var list []model.Message
	if err := json.Unmarshal(raw, &list); err == nil {
		if list == nil {
			list = []model.Message{}
		}
		return list, nil
	}
	var wrapped struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if wrapped.Messages == nil {
		wrapped.Messages = []model.Message{}
	}
	return wrapped.Messages, nil
}

// refresh runs load, applies on success and reports on failure.
func refresh(r ErrorReporter, what string, load func() (func(), error)) error {
	apply, err := load()
	if err != nil {
		slog.Warn("cache refresh failed", "cache", what, "error", err)
		Report(r, err)
		return err
	}
	if apply != nil {
		apply()
	}
	return nil
}
