package harness

import (
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/notify"
)

// TraceEvent is one processed broker event, as journaled.
type TraceEvent struct {
	Seq      int64    `json:"seq"`
	Session  string   `json:"session"`
	OrgID    string   `json:"org_id"`
	Event    string   `json:"event"`
	EntityID string   `json:"entity_id,omitempty"`
	Outcome  string   `json:"outcome"`
	Detail   string   `json:"detail,omitempty"`
	Effects  []string `json:"effects,omitempty"`
}

func traceEventFromEntry(e journal.Entry) TraceEvent {
	return TraceEvent{
		Seq:      e.Seq,
		Session:  e.Session,
		OrgID:    e.OrgID,
		Event:    e.Event,
		EntityID: e.EntityID,
		Outcome:  e.Outcome,
		Detail:   e.Detail,
		Effects:  e.Effects,
	}
}

// State is the engine's cached state after the last step.
type State struct {
	// Organization is the cached organization id, "" if none.
	Organization string `json:"organization"`

	// Channels lists the cached channel ids in order.
	Channels []string `json:"channels"`

	// Messages maps each fetched channel to its message ids, newest first.
	Messages map[string][]string `json:"messages"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the processed events in seq order.
	Trace []TraceEvent `json:"trace"`

	// Notifications, Navigations and Reported are what the engine sent to
	// the UI, in order. Navigations are rendered durations.
	Notifications []notify.Notification `json:"notifications"`
	Navigations   []string              `json:"navigations"`
	Reported      []string              `json:"reported"`

	// Fetches counts API requests per path, query string included.
	Fetches map[string]int `json:"fetches"`

	State State `json:"state"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:          true,
		Trace:         []TraceEvent{},
		Notifications: []notify.Notification{},
		Navigations:   []string{},
		Reported:      []string{},
		Fetches:       map[string]int{},
		State:         State{Channels: []string{}, Messages: map[string][]string{}},
		Errors:        []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
