// README: One-shot job that preloads Redis with every recently refined location.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vectra/internal/config"
	"vectra/internal/infra"
	"vectra/internal/kv"
	"vectra/internal/modules/location"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cache warm failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
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

	window := time.Duration(cfg.Cache.WarmWindowDays) * 24 * time.Hour
	warmer := location.NewWarmer(
		location.NewStore(dbPool),
		location.NewCache(kv.NewRedisStore(redisClient), cfg.Cache.TTL()),
		window,
		cfg.Cache.HotTTL(),
		logger,
	)

	start := time.Now()
	n, err := warmer.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("cache warm complete", "records", n, "window", window, "duration", time.Since(start))
	return nil
}
