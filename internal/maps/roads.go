package maps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"googlemaps.github.io/maps"

	"vectra/internal/metrics"
	"vectra/internal/types"
)

// RoadsClient snaps points with the Google Roads nearestRoads API. The API
// takes no heading, so the bearing hint is ignored.
type RoadsClient struct {
	client  *maps.Client
	timeout time.Duration
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewRoadsClient creates a RoadsClient with the given API key. timeout bounds
// each request. Extra options are passed through to the maps client.
func NewRoadsClient(apiKey string, timeout time.Duration, retry RetryPolicy, logger *slog.Logger, opts ...maps.ClientOption) (*RoadsClient, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RoadsClient{client: client, timeout: timeout, retry: retry.withDefaults(), logger: logger}, nil
}

func (c *RoadsClient) SnapToRoad(ctx context.Context, p types.Point, _ *float64) types.Point {
	var snapped types.Point
	op := func() error {
		var err error
		snapped, err = c.nearest(ctx, p)
		return err
	}
	if err := backoff.Retry(op, c.retry.backOff(ctx)); err != nil {
		metrics.SnapAttempts.WithLabelValues("google", "fallback").Inc()
		c.logger.Warn("road snap failed, keeping raw point", "lat", p.Lat, "lon", p.Lon, "error", err)
		return p
	}
	return snapped
}

func (c *RoadsClient) nearest(ctx context.Context, p types.Point) (types.Point, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.NearestRoads(reqCtx, &maps.NearestRoadsRequest{
		Points: []maps.LatLng{{Lat: p.Lat, Lng: p.Lon}},
	})
	if err != nil {
		metrics.SnapAttempts.WithLabelValues("google", "error").Inc()
		if ctx.Err() != nil {
			return types.Point{}, backoff.Permanent(ctx.Err())
		}
		return types.Point{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.SnappedPoints) == 0 {
		metrics.SnapAttempts.WithLabelValues("google", "error").Inc()
		return types.Point{}, fmt.Errorf("%w: no snapped points", errMalformed)
	}
	loc := resp.SnappedPoints[0].Location
	out := types.Point{Lat: loc.Lat, Lon: loc.Lng}
	if !out.Valid() || (out.Lat == 0 && out.Lon == 0) {
		metrics.SnapAttempts.WithLabelValues("google", "error").Inc()
		return types.Point{}, fmt.Errorf("%w: invalid location", errMalformed)
	}
	metrics.SnapAttempts.WithLabelValues("google", "ok").Inc()
	return out, nil
}
