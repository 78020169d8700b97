package notify

import (
	"context"
	"errors"
)

// Fanout implements Notifier by delivering through every backend in turn.
// A failing backend does not stop the others; failures are joined.
type Fanout []Notifier

// NotifyNewItems delivers through all backends.
func (f Fanout) NotifyNewItems(ctx context.Context, search string, items []Item) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyNewItems(ctx, search, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
