// Package engine orchestrates poll cycles: for each enabled saved search it
// queries the API, detects new items, rolls the seen set forward, and
// notifies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrol/allegro-watch/internal/allegro"
	"github.com/mkrol/allegro-watch/internal/config"
	"github.com/mkrol/allegro-watch/internal/detect"
	"github.com/mkrol/allegro-watch/internal/metrics"
	"github.com/mkrol/allegro-watch/internal/notify"
)

// Engine runs poll cycles over the configured saved searches with injected
// dependencies.
type Engine struct {
	searches []config.SavedSearch
	client   allegro.SearchClient
	detector *detect.Detector
	notifier notify.Notifier
	log      *slog.Logger

	staggerOffset time.Duration
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithStaggerOffset sets the delay between polling each search.
func WithStaggerOffset(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.staggerOffset = d
	}
}

// NewEngine creates a new Engine with injected dependencies.
func NewEngine(
	searches []config.SavedSearch,
	client allegro.SearchClient,
	detector *detect.Detector,
	notifier notify.Notifier,
	opts ...EngineOption,
) *Engine {
	eng := &Engine{
		searches:      searches,
		client:        client,
		detector:      detector,
		notifier:      notifier,
		log:           slog.Default(),
		staggerOffset: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// RunCycle polls every search once, in configuration order. Searches are
// independent units of work: a failing search is logged and counted, and
// the cycle continues with the next one. All failures are joined into the
// returned error so none is silently swallowed.
func (eng *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.PollCycleDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.PollCyclesTotal.Inc()

	var errs []error

	for i, sc := range eng.searches {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		eng.log.Info("sending search", "name", sc.Name)
		metrics.SearchPollsTotal.WithLabelValues(sc.Name).Inc()

		newCount, err := eng.processSearch(ctx, sc)
		if err != nil {
			if errors.Is(err, allegro.ErrDailyLimitReached) {
				eng.log.Warn("daily API limit reached, stopping cycle", "search", sc.Name)
				errs = append(errs, fmt.Errorf("search %q: %w", sc.Name, err))
				break
			}
			eng.log.Error("search failed", "search", sc.Name, "error", err)
			metrics.SearchPollErrorsTotal.WithLabelValues(sc.Name).Inc()
			errs = append(errs, fmt.Errorf("search %q: %w", sc.Name, err))
			continue
		}

		if newCount > 0 {
			eng.log.Info("new items found", "search", sc.Name, "count", newCount)
		}

		// Stagger between searches to avoid API bursts.
		if i < len(eng.searches)-1 && eng.staggerOffset > 0 {
			select {
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				return errors.Join(errs...)
			case <-time.After(eng.staggerOffset):
			}
		}
	}

	return errors.Join(errs...)
}

// processSearch polls one search, commits the new seen set, and notifies
// about the delta. The commit happens before notification: the seen set
// rolls forward whether or not delivery succeeds.
func (eng *Engine) processSearch(ctx context.Context, sc config.SavedSearch) (int, error) {
	batch, err := eng.client.Search(ctx, allegro.SearchRequest{
		Path:   sc.Path,
		Params: sc.Params,
	})
	if err != nil {
		return 0, fmt.Errorf("querying API: %w", err)
	}

	fresh, err := eng.detector.Diff(ctx, sc.Name, batch)
	if err != nil {
		return 0, err
	}

	if err := eng.detector.Commit(ctx, sc.Name, batch); err != nil {
		return 0, err
	}

	if len(fresh) == 0 {
		return 0, nil
	}
	metrics.NewItemsTotal.WithLabelValues(sc.Name).Add(float64(len(fresh)))

	if err := eng.notifier.NotifyNewItems(ctx, sc.Name, toNotifyItems(fresh)); err != nil {
		return len(fresh), fmt.Errorf("notifying: %w", err)
	}
	return len(fresh), nil
}

func toNotifyItems(items []allegro.Item) []notify.Item {
	out := make([]notify.Item, len(items))
	for i, item := range items {
		out[i] = notify.Item{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.SellingMode.Price.Amount,
			Currency: item.SellingMode.Price.Currency,
			Format:   item.SellingMode.Format,
		}
	}
	return out
}
