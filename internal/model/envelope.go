package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EntityKind is the category of record a notification concerns.
type EntityKind string

const (
	KindOrganization EntityKind = "organization"
	KindChannel      EntityKind = "channel"
	KindMessage      EntityKind = "message"
)

// Action is the mutation a notification reports.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReplace Action = "replace"
)

// ReservedPrefix marks event names that belong to the broker itself
// ("pusher:ping", "pusher_internal:subscription_succeeded").
const ReservedPrefix = "pusher"

// EventNameSeparator splits "<kind>.<action>".
const EventNameSeparator = "."

// Wire spellings of entity kinds. The backend publishes the British
// "organisation"; both spellings are accepted.
var wireKinds = map[string]EntityKind{
	"organisation": KindOrganization,
	"organization": KindOrganization,
	"chat-channel": KindChannel,
	"chat-message": KindMessage,
}

var wireActions = map[string]Action{
	"insert":  ActionInsert,
	"update":  ActionUpdate,
	"delete":  ActionDelete,
	"replace": ActionReplace,
}

// WireKind returns the event-name prefix the backend uses for kind.
func WireKind(kind EntityKind) string {
	switch kind {
	case KindOrganization:
		return "organisation"
	case KindChannel:
		return "chat-channel"
	case KindMessage:
		return "chat-message"
	}
	return string(kind)
}

// EventName builds the wire name for (kind, action).
func EventName(kind EntityKind, action Action) string {
	return WireKind(kind) + EventNameSeparator + string(action)
}

// IsReserved reports whether name is a broker-internal event.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Payload is the per-variant body of an Envelope.
// Implemented by OrganizationEvent, ChannelEvent and MessageEvent.
type Payload interface {
	entityKind() EntityKind
}

// OrganizationEvent carries nothing beyond the envelope's EntityID;
// the organization is always re-fetched.
type OrganizationEvent struct{}

// ChannelEvent carries the channel as published.
type ChannelEvent struct {
	Channel Channel
}

// MessageEvent carries the fields of a message notification the engine
// needs. The sender is absent from the notification.
type MessageEvent struct {
	ChannelID string
	Type      string
	Content   string
}

func (OrganizationEvent) entityKind() EntityKind { return KindOrganization }
func (ChannelEvent) entityKind() EntityKind      { return KindChannel }
func (MessageEvent) entityKind() EntityKind      { return KindMessage }

// Raw is a validated {id, doc} payload before the event name is known.
type Raw struct {
	EntityID string
	Document Document
	// Actor is doc.user_id, falling back to doc.owner_id. Empty when the
	// document names neither.
	Actor string
}

// Envelope is the decoded form of one inbound notification.
type Envelope struct {
	Seq      int64
	Name     string
	Kind     EntityKind
	Action   Action
	EntityID string
	Actor    string
	Document Document
	Payload  Payload
}

type wirePayload struct {
	ID  any             `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

// DecodePayload validates the {id, doc} shape of a notification.
// The document's "_id" is aliased to "id" so consumers see one field.
func DecodePayload(data []byte) (Raw, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Raw{}, NewMalformedError("empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var wp wirePayload
	if err := dec.Decode(&wp); err != nil {
		return Raw{}, WrapMalformedError("payload is not a JSON object", err)
	}

	entityID := objectID(wp.ID)
	if entityID == "" {
		return Raw{}, NewMalformedError("payload has no id")
	}
	if len(wp.Doc) == 0 || bytes.Equal(bytes.TrimSpace(wp.Doc), []byte("null")) {
		return Raw{}, NewMalformedError("payload has no doc")
	}

	docDec := json.NewDecoder(bytes.NewReader(wp.Doc))
	docDec.UseNumber()
	var doc Document
	if err := docDec.Decode(&doc); err != nil {
		return Raw{}, WrapMalformedError("doc is not a JSON object", err)
	}
	if doc == nil {
		return Raw{}, NewMalformedError("payload has no doc")
	}

	if upstream, ok := doc["_id"]; ok {
		if id := objectID(upstream); id != "" {
			doc["id"] = id
		}
	}

	return Raw{
		EntityID: entityID,
		Document: doc,
		Actor:    doc.FirstString("user_id", "owner_id"),
	}, nil
}

// ParseEventName splits "<kind>.<action>". Unknown kinds or actions
// return a *DecodeError with ErrCodeUnknownEvent.
func ParseEventName(name string) (EntityKind, Action, error) {
	wk, wa, ok := strings.Cut(name, EventNameSeparator)
	if !ok {
		return "", "", NewUnknownEventError(name)
	}
	kind, ok := wireKinds[wk]
	if !ok {
		return "", "", NewUnknownEventError(name)
	}
	action, ok := wireActions[wa]
	if !ok {
		return "", "", NewUnknownEventError(name)
	}
	return kind, action, nil
}

// NewEnvelope combines an event name with a decoded payload and builds
// the typed variant for (kind, action).
//
// Organization inserts are not published by the backend and are treated
// as unknown.
func NewEnvelope(name string, raw Raw) (Envelope, error) {
	kind, action, err := ParseEventName(name)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Name:     name,
		Kind:     kind,
		Action:   action,
		EntityID: raw.EntityID,
		Actor:    raw.Actor,
		Document: raw.Document,
	}

	switch kind {
	case KindOrganization:
		if action == ActionInsert {
			return Envelope{}, NewUnknownEventError(name)
		}
		env.Payload = OrganizationEvent{}

	case KindChannel:
		var ch Channel
		if err := raw.Document.Decode(&ch); err != nil {
			return Envelope{}, WrapMalformedError("channel doc", err)
		}
		if ch.ID == "" {
			ch.ID = raw.EntityID
		}
		env.Payload = ChannelEvent{Channel: ch}

	case KindMessage:
		channelID := raw.Document.String("channel_id")
		if channelID == "" {
			return Envelope{}, NewMalformedError("message doc has no channel_id")
		}
		env.Payload = MessageEvent{
			ChannelID: channelID,
			Type:      raw.Document.String("type"),
			Content:   raw.Document.String("content"),
		}
	}

	return env, nil
}

// String renders the envelope for logs.
func (e Envelope) String() string {
	return fmt.Sprintf("%s(%s)#%d", e.Name, e.EntityID, e.Seq)
}
