// Package notify defines what the engine hands to the UI layer: alert
// requests, error messages and the navigate-away signal. Rendering is the
// UI's business; this package only carries the decisions.
package notify

import (
	"html"
	"time"
)

// Notification is a request to show an alert. BodyHTML is markup; every
// piece of user content inside it has already passed through a Sanitizer.
type Notification struct {
	Title    string `json:"title"`
	BodyHTML string `json:"body_html"`
}

// Notifier shows notifications.
type Notifier interface {
	Notify(n Notification)
}

// Navigator moves the user away from a view that no longer exists.
type Navigator interface {
	// NavigateAway schedules the redirect after delay.
	NavigateAway(delay time.Duration)
}

// ErrorReporter shows fetch failures.
type ErrorReporter interface {
	ReportError(message string)
}

// UI bundles the three outbound collaborators.
type UI interface {
	Notifier
	Navigator
	ErrorReporter
}

// Sanitizer makes arbitrary text safe to embed in BodyHTML.
type Sanitizer interface {
	Escape(text string) string
}

// SanitizerFunc adapts a function to Sanitizer.
type SanitizerFunc func(string) string

// Escape calls f.
func (f SanitizerFunc) Escape(text string) string { return f(text) }

// HTMLEscaper escapes the five HTML-significant characters.
var HTMLEscaper Sanitizer = SanitizerFunc(html.EscapeString)

// Discard is a UI that drops everything.
var Discard UI = discard{}

type discard struct{}

func (discard) Notify(Notification)        {}
func (discard) NavigateAway(time.Duration) {}
func (discard) ReportError(string)         {}
