// Package notify defines the notification interface and implementations
// for delivering newly detected listings.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Item is one newly detected listing as it appears in a notification.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Format   string `json:"format"`
}

// Notifier defines the interface for delivering new-item notifications
// for a saved search.
type Notifier interface {
	NotifyNewItems(ctx context.Context, search string, items []Item) error
}

// Title builds the notification title for a saved search.
func Title(search string) string {
	return fmt.Sprintf("[ALLEGRO] Search: '%s'", search)
}

// Body renders the items as an indented JSON array, the canonical
// notification body.
func Body(items []Item) (string, error) {
	data, err := json.MarshalIndent(items, "", " ")
	if err != nil {
		return "", fmt.Errorf("encoding notification body: %w", err)
	}
	return string(data), nil
}
