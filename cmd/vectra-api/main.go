// README: Entry point; loads config, wires services, starts the HTTP server and the feedback workers.
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

	"vectra/internal/ai"
	"vectra/internal/config"
	httptransport "vectra/internal/http"
	"vectra/internal/infra"
	"vectra/internal/kv"
	"vectra/internal/metrics"
	"vectra/internal/modules/canary"
	"vectra/internal/modules/feedback"
	"vectra/internal/modules/location"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply migrations before serving")
	migrationsDir := flag.String("migrations", "migrations", "migration directory")
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

	if err := run(ctx, cfg, logger, *migrate, *migrationsDir); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool, migrationsDir string) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	if migrate {
		if err := infra.ApplyMigrations(ctx, dbPool, migrationsDir); err != nil {
			return err
		}
		logger.Info("migrations applied", "dir", migrationsDir)
	}

	redisClient, err := infra.NewRedis(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	if verifier == nil {
		logger.Warn("VECTRA_FIREBASE_PROJECT_ID not set; feedback is unauthenticated")
	}

	predictor, closer, err := ai.NewPredictor(ctx, cfg.AI)
	if err != nil {
		return err
	}
	defer closer.Close()

	router := canary.NewRouter(canary.OptionsFrom(cfg.Canary), predictor, logger)
	cache := location.NewCache(kv.NewRedisStore(redisClient), cfg.Cache.TTL())
	locationSvc := location.NewService(location.NewStore(dbPool), cache, router, logger)

	feedbackSvc := feedback.NewService(feedback.NewStore(dbPool), cfg.Feedback, logger)
	feedbackSvc.Start(ctx)
	defer feedbackSvc.Close()

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Location: locationSvc,
		Feedback: feedbackSvc,
		Verifier: verifier,
		Env:      cfg.Env,
		Logger:   logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTP.Addr, "env", cfg.Env, "canary_percent", cfg.Canary.Percent)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}
