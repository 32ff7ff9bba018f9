// Package notify is the seam to the external notification transport.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers operator-facing messages. Transports live outside
// the core; this interface is all the core sees.
type Notifier interface {
	Send(ctx context.Context, title, message, priority string) error
}

// LogNotifier writes notifications to the structured log. It is the
// default when no transport is wired.
type LogNotifier struct{}

// Send logs the notification.
func (LogNotifier) Send(_ context.Context, title, message, priority string) error {
	slog.Info("Notification", "title", title, "message", message, "priority", priority)
	return nil
}
