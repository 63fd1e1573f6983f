// README: Location service resolves an address id through cache, store and canary router.
package location

import (
	"context"
	"errors"
	"log/slog"

	"vectra/internal/metrics"
)

// Reader is the read side of the refined store.
type Reader interface {
	Get(ctx context.Context, id string) (RefinedLocation, error)
}

// Router may substitute an experimental answer for the heuristic one. It
// must never fail; on any problem it returns fallback unchanged.
type Router interface {
	Route(ctx context.Context, geohash string, fallback Resolution) Resolution
}

type Service struct {
	store  Reader
	cache  *Cache
	router Router
	logger *slog.Logger
}

// NewService wires the resolver. router may be nil, in which case heuristic
// answers are served as is.
func NewService(store Reader, cache *Cache, router Router, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, router: router, logger: logger}
}

// Resolve returns the navigation and entry point for id. The cache only ever
// holds heuristic answers; canary routing is applied on every path.
func (s *Service) Resolve(ctx context.Context, id string) (Resolution, error) {
	res, hit, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("cache read failed", "id", id, "error", err)
	}
	if hit {
		metrics.ResolveOutcomes.WithLabelValues("cache_hit").Inc()
		return s.route(ctx, id, res), nil
	}

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		metrics.ResolveOutcomes.WithLabelValues("not_found").Inc()
		return Resolution{}, ErrNotFound
	}
	if err != nil {
		metrics.ResolveOutcomes.WithLabelValues("error").Inc()
		return Resolution{}, err
	}
	metrics.ResolveOutcomes.WithLabelValues("db_hit").Inc()

	res = rec.Resolution(SourceHeuristicDB)
	if err := s.cache.Put(ctx, res); err != nil {
		s.logger.Warn("cache write failed", "id", id, "error", err)
	}
	return s.route(ctx, id, res), nil
}

func (s *Service) route(ctx context.Context, id string, res Resolution) Resolution {
	if s.router == nil {
		return res
	}
	return s.router.Route(ctx, id, res)
}
