package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// warmChunk is how many records are buffered per pipelined write.
const warmChunk = 1000

// Scanner streams refined records updated since a point in time.
type Scanner interface {
	RecentlyUpdated(ctx context.Context, since time.Time, fn func(RefinedLocation) error) error
}

// Warmer preloads the cache with every record refined inside a window.
type Warmer struct {
	store  Scanner
	cache  *Cache
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewWarmer(store Scanner, cache *Cache, window, ttl time.Duration, logger *slog.Logger) *Warmer {
	return &Warmer{store: store, cache: cache, window: window, ttl: ttl, now: time.Now, logger: logger}
}

// Run returns the number of records written to the cache.
func (w *Warmer) Run(ctx context.Context) (int, error) {
	since := w.now().Add(-w.window)
	batch := make([]Resolution, 0, warmChunk)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.cache.PutMany(ctx, batch, w.ttl); err != nil {
			return fmt.Errorf("warm cache: %w", err)
		}
		total += len(batch)
		w.logger.Info("cache warm progress", "written", total)
		batch = batch[:0]
		return nil
	}

	err := w.store.RecentlyUpdated(ctx, since, func(r RefinedLocation) error {
		batch = append(batch, r.Resolution(SourcePrecomputed))
		if len(batch) >= warmChunk {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
