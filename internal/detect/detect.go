// Package detect computes the new-item delta between poll cycles and rolls
// the persisted seen set forward.
//
// Seen-set policy (replace, don't merge): after every commit the stored ids
// mirror the most recent batch exactly. "Seen" means "present in the last
// poll", not "ever seen". An id that drops out of the results is forgotten
// and will be reported as new again if it reappears. This bounds state
// growth and self-expires dead listings.
package detect

import (
	"context"
	"fmt"

	"github.com/mkrol/allegro-watch/internal/allegro"
	"github.com/mkrol/allegro-watch/internal/store"
)

// NewItems returns the items in batch whose id is not in prev, preserving
// batch order. Neither argument is mutated.
func NewItems(prev []string, batch []allegro.Item) []allegro.Item {
	seen := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		seen[id] = struct{}{}
	}

	var fresh []allegro.Item
	for _, item := range batch {
		if _, ok := seen[item.ID]; !ok {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// IDs extracts the ids of a batch, in order.
func IDs(batch []allegro.Item) []string {
	ids := make([]string, len(batch))
	for i, item := range batch {
		ids[i] = item.ID
	}
	return ids
}

// Detector diffs item batches against the persisted seen set per saved
// search.
type Detector struct {
	store store.Store
}

// New creates a Detector persisting through st.
func New(st store.Store) *Detector {
	return &Detector{store: st}
}

// Diff returns the items of batch not present in the persisted seen set of
// the named search. A search with no persisted set is treated as empty:
// on the first poll every item is new.
func (d *Detector) Diff(ctx context.Context, search string, batch []allegro.Item) ([]allegro.Item, error) {
	prev, err := d.store.LoadSeenIDs(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("loading seen ids: %w", err)
	}
	return NewItems(prev, batch), nil
}

// Commit replaces the persisted seen set of the named search with the ids
// of batch.
func (d *Detector) Commit(ctx context.Context, search string, batch []allegro.Item) error {
	if err := d.store.SaveSeenIDs(ctx, search, IDs(batch)); err != nil {
		return fmt.Errorf("saving seen ids: %w", err)
	}
	return nil
}
