// README: Canary router sends a deterministic slice of addresses to the AI predictor behind a circuit breaker.
package canary

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spaolacci/murmur3"

	"vectra/internal/ai"
	"vectra/internal/config"
	"vectra/internal/metrics"
	"vectra/internal/modules/location"
)

const breakerName = "ai_predictor"

type Options struct {
	Percent   int
	Seed      uint32
	Threshold int
	Cooldown  time.Duration
	Timeout   time.Duration
}

func OptionsFrom(cfg config.CanaryConfig) Options {
	return Options{
		Percent:   cfg.Percent,
		Seed:      cfg.Seed,
		Threshold: cfg.Threshold,
		Cooldown:  cfg.Cooldown(),
		Timeout:   cfg.Timeout(),
	}
}

// Router implements location.Router. It never fails: any predictor problem
// yields the fallback resolution unchanged.
type Router struct {
	opts      Options
	predictor ai.Predictor
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

func NewRouter(opts Options, predictor ai.Predictor, logger *slog.Logger) *Router {
	if opts.Threshold < 1 {
		opts.Threshold = 1
	}
	threshold := uint32(opts.Threshold)
	r := &Router{opts: opts, predictor: predictor, logger: logger}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	metrics.BreakerState.WithLabelValues(breakerName).Set(stateValue(gobreaker.StateClosed))
	return r
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State reports the breaker state.
func (r *Router) State() gobreaker.State {
	return r.breaker.State()
}

// Eligible reports whether geohash falls in the canary slice. Pure and
// stable across processes for a fixed seed.
func (r *Router) Eligible(geohash string) bool {
	return Eligible(geohash, r.opts.Seed, r.opts.Percent)
}

func Eligible(geohash string, seed uint32, percent int) bool {
	if percent <= 0 {
		return false
	}
	h := int64(int32(murmur3.Sum32WithSeed([]byte(geohash), seed)))
	if h < 0 {
		h = -h
	}
	return h%100 < int64(percent)
}

func (r *Router) Route(ctx context.Context, geohash string, fallback location.Resolution) location.Resolution {
	if r.predictor == nil || !r.Eligible(geohash) {
		metrics.CanaryDecisions.WithLabelValues("skipped").Inc()
		return fallback
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.predict(ctx, geohash)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CanaryDecisions.WithLabelValues("rejected").Inc()
			return fallback
		}
		metrics.CanaryDecisions.WithLabelValues("fallback").Inc()
		r.logger.Warn("ai prediction failed, serving heuristic", "geohash", geohash, "error", err)
		return fallback
	}

	best := out.(*ai.Prediction).Best()
	conf := best.Probability
	res := fallback
	res.EntryPoint = best.Point()
	res.Source = location.SourceCanaryPrefix + best.Type
	res.Confidence = &conf
	metrics.CanaryDecisions.WithLabelValues("served").Inc()
	return res
}

type predictResult struct {
	pred *ai.Prediction
	err  error
}

// predict enforces the call deadline even against predictors that ignore
// their context. The call is detached from the caller's cancellation so a
// client hanging up is never recorded as a predictor failure.
func (r *Router) predict(ctx context.Context, geohash string) (*ai.Prediction, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.Timeout)
	defer cancel()

	done := make(chan predictResult, 1)
	go func() {
		pred, err := r.predictor.PredictEntryPoints(ctx, geohash)
		done <- predictResult{pred: pred, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if err := res.pred.Validate(); err != nil {
			return nil, err
		}
		return res.pred, nil
	}
}
