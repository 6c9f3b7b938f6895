package engine

import (
	"errors"
	"fmt"
)

// DropReason says why the router did not apply an event. None of them is
// a failure the user sees.
type DropReason string

const (
	// DropInternal is a broker protocol event ("pusher:*").
	DropInternal DropReason = "internal"

	// DropMalformed is a payload without {id, doc}, or without a field its
	// variant requires.
	DropMalformed DropReason = "malformed"

	// DropSelfOrigin is an event caused by the current principal.
	DropSelfOrigin DropReason = "self_origin"

	// DropUnknown is an event name outside the (kind, action) table.
	DropUnknown DropReason = "unknown"

	// DropOutOfScope targets an organization other than the active one.
	DropOutOfScope DropReason = "out_of_scope"
)

// DropError reports a dropped event. The router returns it inside an
// Outcome; it is logged and journaled, never surfaced to the UI.
type DropError struct {
	// Reason categorizes the drop.
	Reason DropReason

	// Event is the raw event name.
	Event string

	// OrgID is the organization the router was bound to.
	OrgID string

	// Err is the decode failure, if any.
	Err error
}

// Error implements the error interface.
func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dropped %s (%s, org=%s): %v", e.Event, e.Reason, e.OrgID, e.Err)
	}
	return fmt.Sprintf("dropped %s (%s, org=%s)", e.Event, e.Reason, e.OrgID)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// newDropError creates a DropError.
func newDropError(reason DropReason, event, orgID string, err error) *DropError {
	return &DropError{Reason: reason, Event: event, OrgID: orgID, Err: err}
}

// IsDropped reports whether err is a DropError with reason. An empty
// reason matches any drop. Uses errors.As to handle wrapped errors.
func IsDropped(err error, reason DropReason) bool {
	var de *DropError
	if errors.As(err, &de) {
		return reason == "" || de.Reason == reason
	}
	return false
}

// ReasonOf returns err's DropReason, or "" if err is not a drop.
func ReasonOf(err error) DropReason {
	var de *DropError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// ErrStopped is returned by operations submitted after Stop.
var ErrStopped = errors.New("engine stopped")
