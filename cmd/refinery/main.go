// README: Refinery entry point; runs the refinement loop and exposes metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vectra/internal/config"
	"vectra/internal/infra"
	"vectra/internal/kv"
	"vectra/internal/lock"
	"vectra/internal/maps"
	"vectra/internal/metrics"
	"vectra/internal/modules/heuristics"
	"vectra/internal/modules/location"
	"vectra/internal/modules/refinery"
	"vectra/internal/modules/trace"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for /metrics; empty disables")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once, *metricsAddr); err != nil {
		logger.Error("refinery stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool, metricsAddr string) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	store := kv.NewRedisStore(redisClient)

	snapper, err := maps.NewSnapper(cfg.Snap, logger)
	if err != nil {
		return err
	}

	svc := refinery.NewService(
		location.NewStore(dbPool),
		trace.NewStore(dbPool),
		heuristics.NewEngine(heuristics.Config{EpsMeters: cfg.Heuristics.EpsMeters, MinSamples: cfg.Heuristics.MinSamples}),
		snapper,
		lock.NewLocker(store),
		location.NewCache(store, cfg.Cache.HotTTL()),
		refinery.ConfigFrom(cfg),
		logger,
	)

	if once {
		report, err := svc.RunCycle(ctx)
		logger.Info("cycle finished", "candidates", report.Candidates, "written", report.Written,
			"contended", report.Contended, "insufficient", report.Insufficient, "failed", report.Failed,
			"duration", report.Duration)
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("refinery started", "workers", cfg.Refinery.Workers, "batch", cfg.Refinery.BatchSize,
		"interval", cfg.Refinery.Interval(), "snap_provider", cfg.Snap.Provider)
	svc.RunScheduler(ctx)
	return nil
}
