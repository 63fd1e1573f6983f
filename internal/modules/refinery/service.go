// README: Refinery orchestrator turns dirty geohashes into refined locations on a fixed cadence.
package refinery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vectra/internal/geo"
	"vectra/internal/lock"
	"vectra/internal/maps"
	"vectra/internal/metrics"
	"vectra/internal/modules/heuristics"
	"vectra/internal/modules/location"
	"vectra/internal/modules/trace"
)

// Store is the refined-location table as seen by the refinery.
type Store interface {
	Candidates(ctx context.Context, limit int) ([]string, error)
	UpsertBatch(ctx context.Context, recs []location.RefinedLocation) ([]location.RefinedLocation, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Service struct {
	store   Store
	traces  trace.Source
	engine  *heuristics.Engine
	snapper maps.Snapper
	locker  Locker
	cache   *location.Cache
	cfg     Config
	logger  *slog.Logger
}

func NewService(store Store, traces trace.Source, engine *heuristics.Engine, snapper maps.Snapper, locker Locker, cache *location.Cache, cfg Config, logger *slog.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		store:   store,
		traces:  traces,
		engine:  engine,
		snapper: snapper,
		locker:  locker,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunScheduler runs cycles until ctx is cancelled, sleeping Interval between
// them. Cycle errors are logged and the loop continues.
func (s *Service) RunScheduler(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			report, err := s.RunCycle(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("refinement cycle failed", "error", err)
			} else if report.Candidates == 0 {
				s.logger.Info("no dirty geohashes, sleeping", "interval", s.cfg.Interval)
			}
			timer.Reset(s.cfg.Interval)
		}
	}
}

// RunCycle performs one discover, dispatch, write-back and cache push pass.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	var report CycleReport
	defer func() {
		report.Duration = time.Since(start)
		metrics.RefineCycleDuration.Observe(report.Duration.Seconds())
	}()

	candidates, err := s.store.Candidates(ctx, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("discover candidates: %w", err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}
	s.logger.Info("starting batch", "size", len(candidates))

	var (
		mu      sync.Mutex
		results []location.RefinedLocation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, gh := range candidates {
		g.Go(func() error {
			rec, out := s.refine(gctx, gh)
			metrics.RefineOutcomes.WithLabelValues(string(out)).Inc()
			mu.Lock()
			defer mu.Unlock()
			report.count(out)
			if rec != nil {
				results = append(results, *rec)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(results) == 0 {
		return report, nil
	}

	written, err := s.store.UpsertBatch(ctx, results)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	report.Written = len(written)
	s.logger.Info("batch committed", "written", report.Written, "contended", report.Contended,
		"insufficient", report.Insufficient, "failed", report.Failed)

	s.pushHot(ctx, written)
	return report, nil
}

// refine never returns an error; failures are logged and reported as an
// outcome so siblings keep running.
func (s *Service) refine(ctx context.Context, gh string) (*location.RefinedLocation, outcome) {
	var rec *location.RefinedLocation
	acquired, err := s.locker.WithLock(ctx, lock.RefineKey(gh), s.cfg.LockTTL, func(ctx context.Context) error {
		r, err := s.compute(ctx, gh)
		rec = r
		return err
	})
	switch {
	case errors.Is(err, heuristics.ErrInsufficientData):
		s.logger.Debug("not enough scans", "geohash", gh)
		return nil, outcomeInsufficient
	case err != nil:
		s.logger.Error("processing failed", "geohash", gh, "error", err)
		return nil, outcomeFailed
	case !acquired:
		s.logger.Debug("geohash locked elsewhere", "geohash", gh)
		return nil, outcomeContended
	}
	return rec, outcomeRefined
}

func (s *Service) compute(ctx context.Context, gh string) (*location.RefinedLocation, error) {
	sess, err := s.traces.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	scans, err := sess.ScanPoints(ctx, gh)
	if err != nil {
		return nil, err
	}
	entry, err := s.engine.FindEntryPoint(scans)
	if err != nil {
		return nil, err
	}

	nearby, err := sess.PointsIn(ctx, geo.Neighborhood(gh))
	if err != nil {
		return nil, err
	}
	nav := entry.Point
	snapped := false
	if cand, ok := s.engine.FindParkingCandidate(nearby, entry.Point); ok {
		nav = s.snapper.SnapToRoad(ctx, cand.Point, cand.Bearing)
		snapped = true
	}

	return &location.RefinedLocation{
		ID:              gh,
		NavigationPoint: nav,
		EntryPoint:      entry.Point,
		ConfidenceScore: s.confidence(entry, snapped),
		Source:          location.SourceHeuristic,
	}, nil
}

// confidence is nil for an all-noise estimate. The snap discount applies only
// when the navigation point came from the road-snap client.
func (s *Service) confidence(entry *heuristics.EntryPointEstimate, snapped bool) *float64 {
	if entry.Fallback {
		return nil
	}
	c := entry.Confidence
	if snapped {
		c = math.Round(c*s.cfg.SnapDiscount*100) / 100
	}
	return &c
}

func (s *Service) pushHot(ctx context.Context, recs []location.RefinedLocation) {
	if s.cache == nil {
		return
	}
	rs := make([]location.Resolution, 0, len(recs))
	for _, r := range recs {
		rs = append(rs, r.Resolution(location.SourceLiveRefinery))
	}
	if err := s.cache.PutMany(ctx, rs, s.cfg.HotTTL); err != nil {
		s.logger.Error("cache update failed", "error", err)
	}
}
