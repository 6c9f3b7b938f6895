package notify

import (
	"log/slog"
	"time"
)

// LogUI renders every request as a structured log line. It backs the
// headless run command.
type LogUI struct {
	Logger *slog.Logger
}

func (u LogUI) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// Notify logs the notification.
func (u LogUI) Notify(n Notification) {
	u.logger().Info("notification", "title", n.Title, "body_html", n.BodyHTML)
}

// NavigateAway logs the redirect request.
func (u LogUI) NavigateAway(delay time.Duration) {
	u.logger().Warn("navigate away requested", "delay", delay)
}

// ReportError logs the error message.
func (u LogUI) ReportError(message string) {
	u.logger().Error("api error", "message", message)
}
