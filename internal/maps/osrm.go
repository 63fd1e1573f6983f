package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"vectra/internal/metrics"
	"vectra/internal/types"
)

type OSRMConfig struct {
	BaseURL       string
	Profile       string
	Timeout       time.Duration
	BearingRange  int
	PoolSize      int
	RatePerSecond float64
	Retry         RetryPolicy
}

// OSRMClient snaps points with the OSRM nearest service. One client is shared
// by every worker in the process.
type OSRMClient struct {
	cfg     OSRMConfig
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewOSRMClient(cfg OSRMConfig, logger *slog.Logger) *OSRMClient {
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.BearingRange <= 0 {
		cfg.BearingRange = 20
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	cfg.Retry = cfg.Retry.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.PoolSize
	transport.MaxIdleConnsPerHost = cfg.PoolSize

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &OSRMClient{
		cfg:     cfg,
		httpc:   &http.Client{Transport: transport},
		limiter: rate.NewLimiter(limit, cfg.PoolSize),
		logger:  logger,
	}
}

type osrmNearestResponse struct {
	Code      string `json:"code"`
	Waypoints []struct {
		Location []float64 `json:"location"`
	} `json:"waypoints"`
}

func (c *OSRMClient) SnapToRoad(ctx context.Context, p types.Point, bearing *float64) types.Point {
	var snapped types.Point
	op := func() error {
		var err error
		snapped, err = c.attempt(ctx, p, bearing)
		return err
	}
	if err := backoff.Retry(op, c.cfg.Retry.backOff(ctx)); err != nil {
		metrics.SnapAttempts.WithLabelValues("osrm", "fallback").Inc()
		c.logger.Warn("road snap failed, keeping raw point", "lat", p.Lat, "lon", p.Lon, "error", err)
		return p
	}
	return snapped
}

// attempt tries the bearing-constrained query first and, if that fails,
// the same point without a bearing.
func (c *OSRMClient) attempt(ctx context.Context, p types.Point, bearing *float64) (types.Point, error) {
	if bearing != nil {
		if out, err := c.nearest(ctx, p, bearing); err == nil {
			return out, nil
		}
	}
	return c.nearest(ctx, p, nil)
}

func (c *OSRMClient) nearest(ctx context.Context, p types.Point, bearing *float64) (types.Point, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.Point{}, backoff.Permanent(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/nearest/v1/%s/%s,%s", c.cfg.BaseURL, c.cfg.Profile, formatCoord(p.Lon), formatCoord(p.Lat))
	if bearing != nil {
		b := int(math.Mod(math.Mod(*bearing, 360)+360, 360))
		url += fmt.Sprintf("?bearings=%d,%d", b, c.cfg.BearingRange)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Point{}, backoff.Permanent(err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.SnapAttempts.WithLabelValues("osrm", "error").Inc()
		return types.Point{}, fmt.Errorf("osrm nearest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.SnapAttempts.WithLabelValues("osrm", "error").Inc()
		return types.Point{}, fmt.Errorf("osrm nearest: status %d", resp.StatusCode)
	}
	var body osrmNearestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.SnapAttempts.WithLabelValues("osrm", "error").Inc()
		return types.Point{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if body.Code != "Ok" || len(body.Waypoints) == 0 || len(body.Waypoints[0].Location) != 2 {
		metrics.SnapAttempts.WithLabelValues("osrm", "error").Inc()
		return types.Point{}, fmt.Errorf("%w: code %q", errMalformed, body.Code)
	}
	loc := body.Waypoints[0].Location
	out := types.Point{Lat: loc[1], Lon: loc[0]}
	if !out.Valid() {
		metrics.SnapAttempts.WithLabelValues("osrm", "error").Inc()
		return types.Point{}, fmt.Errorf("%w: out of range location", errMalformed)
	}
	metrics.SnapAttempts.WithLabelValues("osrm", "ok").Inc()
	return out, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
