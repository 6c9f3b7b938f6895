package testutil

import (
	"sync"
	"time"

	"github.com/roach88/livesync/internal/notify"
)

// UI records every request the engine sends to the UI layer.
// Implements notify.UI.
//
// Thread-safety: all methods are safe for concurrent use.
type UI struct {
	mu            sync.Mutex
	notifications []notify.Notification
	navigations   []time.Duration
	errors        []string
}

// NewUI creates an empty recorder.
func NewUI() *UI {
	return &UI{}
}

// Notify records n.
func (u *UI) Notify(n notify.Notification) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notifications = append(u.notifications, n)
}

// NavigateAway records the delay.
func (u *UI) NavigateAway(delay time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.navigations = append(u.navigations, delay)
}

// ReportError records message.
func (u *UI) ReportError(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, message)
}

// Notifications returns the recorded notifications in order.
func (u *UI) Notifications() []notify.Notification {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]notify.Notification(nil), u.notifications...)
}

// Navigations returns the recorded redirect delays in order.
func (u *UI) Navigations() []time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]time.Duration(nil), u.navigations...)
}

// Errors returns the recorded error messages in order.
func (u *UI) Errors() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.errors...)
}
