package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/livesync/internal/model"
)

// Effect names recorded in an Outcome.
const (
	EffectOrganizationRefresh = "organization.refresh"
	EffectChannelAppend       = "channels.append"
	EffectChannelReplace      = "channels.replace"
	EffectChannelRemove       = "channels.remove"
	EffectChannelMiss         = "channels.miss"
	EffectMessagesRefresh     = "messages.refresh"
	EffectNotify              = "notify"
	EffectNavigateAway        = "navigate_away"
)

// Outcome is what the router did with one event.
type Outcome struct {
	Seq      int64
	Session  string
	OrgID    string
	Event    string
	EntityID string
	Hash     string

	// Err is a *DropError when the event was dropped, nil when applied.
	Err error

	// Effects lists the cache operations and UI requests issued, in
	// order, as "<effect>" or "<effect>:<id>".
	Effects []string
}

// Applied reports whether the event reached the dispatch table.
func (o Outcome) Applied() bool { return o.Err == nil }

// Result returns "applied" or the drop reason.
func (o Outcome) Result() string {
	if o.Err == nil {
		return "applied"
	}
	return string(ReasonOf(o.Err))
}

func (o *Outcome) effect(name, id string) {
	if id != "" {
		name += ":" + id
	}
	o.Effects = append(o.Effects, name)
}

// Router decodes the events of one subscription and applies them to the
// engine's caches. Each Subscribe builds a new Router bound to its
// organization, principal and session; nothing is looked up from
// ambient state.
type Router struct {
	engine    *Engine
	orgID     string
	principal string
	session   string
}

// OrgID returns the organization the router was built for.
func (r *Router) OrgID() string { return r.orgID }

// Session returns the session the router belongs to.
func (r *Router) Session() string { return r.session }

// deliver is the broker handler. It runs on the transport goroutine and
// only enqueues; Handle runs later on the loop.
func (r *Router) deliver(name string, data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)
	if !r.engine.enqueue(Event{
		Type:     EventTypeDelivery,
		Delivery: &Delivery{Router: r, Name: name, Data: payload},
	}) {
		slog.Debug("event after stop", "event", name, "org_id", r.orgID)
	}
}

// Handle decodes and dispatches one event. Must run on the engine loop.
//
// Steps, in order: broker-internal names are dropped; the payload must
// carry {id, doc}; doc._id is aliased to doc.id; events whose actor is
// the principal are dropped; the name must parse as "<kind>.<action>";
// the event must target the active organization. Only then is the
// dispatch table consulted.
func (r *Router) Handle(ctx context.Context, name string, data []byte) Outcome {
	out := Outcome{
		Seq:     r.engine.clock.Next(),
		Session: r.session,
		OrgID:   r.orgID,
		Event:   name,
	}

	if model.IsReserved(name) {
		out.Err = newDropError(DropInternal, name, r.orgID, nil)
		return out
	}

	raw, err := model.DecodePayload(data)
	if err != nil {
		out.Err = newDropError(DropMalformed, name, r.orgID, err)
		return out
	}
	out.EntityID = raw.EntityID
	if h, err := model.EnvelopeHash(name, raw.EntityID, raw.Document); err == nil {
		out.Hash = h
	} else {
		slog.Debug("envelope not hashable", "event", name, "error", err)
	}

	if IsSelfOrigin(raw.Actor, r.principal) {
		out.Err = newDropError(DropSelfOrigin, name, r.orgID, nil)
		return out
	}

	env, err := model.NewEnvelope(name, raw)
	if err != nil {
		reason := DropMalformed
		if model.IsUnknownEvent(err) {
			reason = DropUnknown
		}
		out.Err = newDropError(reason, name, r.orgID, err)
		return out
	}
	env.Seq = out.Seq

	if !r.engine.inScope(r.orgID, r.target(env)) {
		out.Err = newDropError(DropOutOfScope, name, r.orgID, nil)
		return out
	}

	r.dispatch(ctx, env, &out)
	return out
}

// target returns the organization an envelope concerns. Channel
// documents may name theirs; everything else belongs to the router's.
func (r *Router) target(env model.Envelope) string {
	switch p := env.Payload.(type) {
	case model.OrganizationEvent:
		return env.EntityID
	case model.ChannelEvent:
		if p.Channel.OrganizationID != "" {
			return p.Channel.OrganizationID
		}
	}
	return r.orgID
}

func (r *Router) dispatch(ctx context.Context, env model.Envelope, out *Outcome) {
	e := r.engine

	switch p := env.Payload.(type) {
	case model.OrganizationEvent:
		switch env.Action {
		case model.ActionUpdate, model.ActionReplace:
			e.refreshOrganization(ctx, r.orgID)
			out.effect(EffectOrganizationRefresh, r.orgID)
		case model.ActionDelete:
			n, delay := e.policy.OrganizationDeleted()
			e.ui.Notify(n)
			out.effect(EffectNotify, "")
			e.ui.NavigateAway(delay)
			out.effect(EffectNavigateAway, delay.String())
		}

	case model.ChannelEvent:
		ch := p.Channel
		switch env.Action {
		case model.ActionInsert:
			e.channels.Append(ch)
			out.effect(EffectChannelAppend, ch.ID)
		case model.ActionUpdate, model.ActionReplace:
			ch.ID = env.EntityID
			if e.channels.Replace(ch) {
				out.effect(EffectChannelReplace, ch.ID)
			} else {
				out.effect(EffectChannelMiss, ch.ID)
			}
		case model.ActionDelete:
			if e.channels.Remove(env.EntityID) {
				out.effect(EffectChannelRemove, env.EntityID)
			} else {
				out.effect(EffectChannelMiss, env.EntityID)
			}
		}

	case model.MessageEvent:
		// The notification omits the sender, so the list is always
		// re-fetched rather than patched.
		e.refreshMessages(ctx, r.orgID, p.ChannelID, true)
		out.effect(EffectMessagesRefresh, p.ChannelID)

		if env.Action == model.ActionInsert {
			if n, ok := e.policy.MessageInserted(p, e.channels.Get(), true); ok {
				e.ui.Notify(n)
				out.effect(EffectNotify, "")
			}
		}

	default:
		slog.Error("unhandled payload", "event", env.Name, "payload", fmt.Sprintf("%T", env.Payload))
	}
}
