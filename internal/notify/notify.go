// Package notify delivers outbound messages to the user. Delivery is an
// outbox concern, ledger transactions never wait on it.
package notify

import (
	"context"

	"commissioni/internal/log"
)

// Notifier sends a message to one user. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
	Close() error
}

// LogNotifier writes notifications to the log. It is the fallback when no
// broker is configured and in tests.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithComponent(log.ComponentNotify)}
}

func (n *LogNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.logger.InfoContext(ctx, "Notification",
		log.FieldOperation, log.OpNotify,
		log.FieldActor, userID,
		"text", text)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
