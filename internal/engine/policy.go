package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/livesync/internal/model"
	"github.com/roach88/livesync/internal/notify"
)

const (
	// DefaultPreviewRunes caps the message preview in a notification.
	DefaultPreviewRunes = 200

	// DefaultRedirectDelay is how long the organization-deleted notice
	// stays up before the user is sent away.
	DefaultRedirectDelay = 3 * time.Second
)

const ellipsis = "\u2026"

// Organization-deleted notice.
const (
	OrganizationDeletedTitle = "Organisation deleted"
	OrganizationDeletedBody  = "This organisation has been deleted. Redirecting you back to the home page."
)

// Policy decides which events raise a notification and with what text.
// The zero value uses HTML escaping and the defaults above.
type Policy struct {
	Sanitizer     notify.Sanitizer
	PreviewRunes  int
	RedirectDelay time.Duration
}

func (p Policy) sanitizer() notify.Sanitizer {
	if p.Sanitizer == nil {
		return notify.HTMLEscaper
	}
	return p.Sanitizer
}

func (p Policy) previewRunes() int {
	if p.PreviewRunes <= 0 {
		return DefaultPreviewRunes
	}
	return p.PreviewRunes
}

func (p Policy) redirectDelay() time.Duration {
	if p.RedirectDelay <= 0 {
		return DefaultRedirectDelay
	}
	return p.RedirectDelay
}

// MessageInserted decides the notification for a new message. It fires
// only for an in-scope event whose channel resolves to a name in
// channels; an unresolved channel yields no notification.
func (p Policy) MessageInserted(ev model.MessageEvent, channels []model.Channel, inScope bool) (notify.Notification, bool) {
	if !inScope {
		return notify.Notification{}, false
	}

	var name string
	found := false
	for _, ch := range channels {
		if ch.ID == ev.ChannelID {
			name, found = ch.Name, true
			break
		}
	}
	if !found {
		return notify.Notification{}, false
	}

	s := p.sanitizer()
	kind := "New message"
	if ev.Type != "" {
		kind = "New " + s.Escape(ev.Type) + " message"
	}

	var body strings.Builder
	body.WriteString(kind)
	body.WriteString(" in <strong>")
	body.WriteString(s.Escape(name))
	body.WriteString("</strong>.<br>")
	body.WriteString(s.Escape(p.Preview(ev.Content)))

	return notify.Notification{Title: kind, BodyHTML: body.String()}, true
}

// OrganizationDeleted returns the notice for the active organization's
// deletion and the delay before navigating away.
func (p Policy) OrganizationDeleted() (notify.Notification, time.Duration) {
	return notify.Notification{
		Title:    OrganizationDeletedTitle,
		BodyHTML: p.sanitizer().Escape(OrganizationDeletedBody),
	}, p.redirectDelay()
}

// Preview normalizes content to NFC and truncates it to the configured
// number of runes, marking the cut with an ellipsis.
func (p Policy) Preview(content string) string {
	content = norm.NFC.String(content)
	limit := p.previewRunes()
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	n := 0
	for i := range content {
		if n == limit {
			return content[:i] + ellipsis
		}
		n++
	}
	return content
}
