// Package categoryloader batches and caches category name lookups for one ingestion run.
package categoryloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/marketsync/internal/domain"
)

// Finder resolves category display names for a locale. The result is keyed by Key(name).
type Finder interface {
	FindByNames(ctx context.Context, locale domain.Locale, names []string) (map[string]domain.Category, error)
}

// Key normalises a category label the way Finder results are keyed.
func Key(name string) string {
	return domain.CategoryKey(name)
}

// Loader resolves category labels of a single locale.
type Loader struct {
	locale domain.Locale
	loader *dataloader.Loader
}

// Thunk blocks until the lookup resolves. A nil category means no match.
type Thunk func() (*domain.Category, error)

// New creates a loader; batches flush after wait or once capacity keys are queued.
func New(finder Finder, locale domain.Locale, wait time.Duration, capacity int) *Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		names := keys.Keys()
		found, err := finder.FindByNames(ctx, locale, names)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("failed to look up categories for %s: %w", locale, err)}
			}
			return results
		}

		results := make([]*dataloader.Result, len(keys))
		for i, name := range names {
			if category, ok := found[name]; ok {
				results[i] = &dataloader.Result{Data: category}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	opts := []dataloader.Option{dataloader.WithWait(wait)}
	if capacity > 0 {
		opts = append(opts, dataloader.WithBatchCapacity(capacity))
	}
	return &Loader{locale: locale, loader: dataloader.NewBatchedLoader(batchFn, opts...)}
}

// Locale is the storefront this loader resolves against.
func (l *Loader) Locale() domain.Locale {
	return l.locale
}

// Load queues a lookup and returns a thunk for its result.
func (l *Loader) Load(ctx context.Context, name string) Thunk {
	thunk := l.loader.Load(ctx, dataloader.StringKey(Key(name)))
	return func() (*domain.Category, error) {
		data, err := thunk()
		if err != nil {
			return nil, err
		}
		category, ok := data.(domain.Category)
		if !ok {
			return nil, nil
		}
		return &category, nil
	}
}
