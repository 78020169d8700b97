package notify

import (
	"context"
	"log/slog"
)

// NoOpNotifier implements Notifier by logging discarded notifications. It
// is used when no delivery backend is configured.
type NoOpNotifier struct {
	log *slog.Logger
}

// NewNoOpNotifier creates a notifier that discards notifications with a
// log message.
func NewNoOpNotifier(log *slog.Logger) *NoOpNotifier {
	return &NoOpNotifier{log: log}
}

// NotifyNewItems logs and discards the new-item list.
func (n *NoOpNotifier) NotifyNewItems(_ context.Context, search string, items []Item) error {
	n.log.Debug("notification discarded (no backend configured)",
		"search", search,
		"count", len(items),
	)
	return nil
}
