// README: Road-snap providers; every failure degrades to the unsnapped point.
package maps

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vectra/internal/config"
	"vectra/internal/types"
)

// Snapper moves a point onto the nearest drivable road. It never fails: when
// the provider cannot answer, the input point is returned unchanged.
type Snapper interface {
	SnapToRoad(ctx context.Context, p types.Point, bearing *float64) types.Point
}

var errMalformed = errors.New("malformed snap response")

// RetryPolicy bounds attempts and the exponential wait between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 500 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 10 * time.Second
	}
	return r
}

func (r RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.InitialBackoff),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(r.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.MaxAttempts-1)), ctx)
}

// NoopSnapper returns every point unchanged.
type NoopSnapper struct{}

func (NoopSnapper) SnapToRoad(_ context.Context, p types.Point, _ *float64) types.Point {
	return p
}

// NewSnapper builds the provider selected in cfg.
func NewSnapper(cfg config.SnapConfig, logger *slog.Logger) (Snapper, error) {
	retry := RetryPolicy{MaxAttempts: cfg.MaxAttempts}
	switch cfg.Provider {
	case "none":
		return NoopSnapper{}, nil
	case "google":
		c, err := NewRoadsClient(cfg.GoogleKey, cfg.Timeout(), retry, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return NewOSRMClient(OSRMConfig{
			BaseURL:       cfg.BaseURL,
			Profile:       cfg.Profile,
			Timeout:       cfg.Timeout(),
			BearingRange:  cfg.BearingRange,
			PoolSize:      cfg.PoolSize,
			RatePerSecond: cfg.RatePerSecond,
			Retry:         retry,
		}, logger), nil
	}
}
