package notifier

import (
	"context"
	"log/slog"
)

// Notifier delivers a rendered message. Email, LINE or SMS senders plug in
// here; the console one is the default.
type Notifier interface {
	Notify(ctx context.Context, to, subject, message string) error
}

type ConsoleNotifier struct {
	log *slog.Logger
}

func NewConsole(log *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log.With("module", "notifier")}
}

func (c *ConsoleNotifier) Notify(ctx context.Context, to, subject, message string) error {
	c.log.InfoContext(ctx, "notification", "to", to, "subject", subject, "message", message)
	return nil
}
