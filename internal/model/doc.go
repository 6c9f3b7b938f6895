// Package model defines the records the sync engine caches and the
// decoded form of inbound broker notifications.
//
// # Entities
//
// Organization, Channel and Message mirror the JSON bodies returned by the
// HTTP API. They are plain values; the caches own every copy.
//
// # Envelopes
//
// A broker notification arrives as an event name ("chat-message.insert")
// and a JSON payload of the shape {"id": "...", "doc": {...}}. Decoding is
// split in two so the router can apply its checks in a fixed order:
//
//  1. DecodePayload validates the {id, doc} shape, aliases the upstream
//     "_id" field to "id" and extracts the actor (user_id, then owner_id).
//  2. NewEnvelope parses the event name into (EntityKind, Action) and
//     builds the typed Payload variant, validating the fields each variant
//     requires.
//
// Anything that does not fit is reported as a *DecodeError and dropped by
// the caller. Nothing here panics on hostile input.
//
// # Canonical JSON
//
// MarshalCanonical and EnvelopeHash give every envelope a stable content
// hash. The journal stores it so repeated deliveries of the same
// notification can be spotted in a trace.
package model
