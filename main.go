package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-tracker/analytics"
	"portfolio-tracker/cache"
	"portfolio-tracker/config"
	"portfolio-tracker/database"
	"portfolio-tracker/handlers"
	"portfolio-tracker/logging"
	"portfolio-tracker/outbox"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load("portfolio.toml", os.Getenv("PORTFOLIO_CONFIG"))
	if err != nil {
		boot := logging.New("info", "console")
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open store")
	}
	defer store.Close()

	c, err := openCache(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Cache.Driver).Msg("failed to open cache")
	}

	market := analytics.NewClient(cfg.Analytics.BaseURL,
		analytics.WithTimeout(config.Duration(cfg.Analytics.Timeout, analytics.DefaultTimeout)),
		analytics.WithRateLimit(cfg.Analytics.RateLimit),
		analytics.WithLogger(log),
	)

	defaults := outbox.DefaultOptions()
	dispatcher := outbox.NewDispatcher(store, market, outbox.Options{
		PollInterval: config.Duration(cfg.Outbox.PollInterval, defaults.PollInterval),
		Lease:        config.Duration(cfg.Outbox.Lease, defaults.Lease),
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BaseBackoff:  config.Duration(cfg.Outbox.BaseBackoff, defaults.BaseBackoff),
		MaxBackoff:   config.Duration(cfg.Outbox.MaxBackoff, defaults.MaxBackoff),
	}, log)

	h := handlers.New(handlers.Config{
		Store:         store,
		Cache:         c,
		Market:        market,
		Notifier:      dispatcher,
		Logger:        log,
		PortfolioTTL:  config.Duration(cfg.Cache.PortfolioTTL, time.Minute),
		QuoteTTL:      config.Duration(cfg.Cache.QuoteTTL, 5*time.Minute),
		PredictionTTL: config.Duration(cfg.Cache.PredictionTTL, time.Hour),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("reset dispatcher stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("portfolio service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-dispatched
}

func openStore(cfg config.DatabaseConfig, log zerolog.Logger) (database.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), nil
	}

	db, err := config.OpenDB(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return database.NewPostgresStore(db), nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Driver == "memory" {
		return cache.NewMemory(), nil
	}
	rdb, err := config.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return cache.NewRedis(rdb), nil
}
