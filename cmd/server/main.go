package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/api"
	"github.com/Tausifislam01/CloakPost/internal/config"
	"github.com/Tausifislam01/CloakPost/internal/crypto"
	"github.com/Tausifislam01/CloakPost/internal/handlers"
	"github.com/Tausifislam01/CloakPost/internal/hub"
	"github.com/Tausifislam01/CloakPost/internal/messaging"
	"github.com/Tausifislam01/CloakPost/internal/scheduler"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

func main() {
	// Logger first so config failures are reported properly.
	var logger zerolog.Logger
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// A bad master key must stop the process here, not fail per message
	// in production.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx := context.Background()

	deriver, err := crypto.NewDeriver(cfg.MasterKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("key deriver initialization failed")
	}

	// Persistence: Postgres in production, SQLite otherwise.
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		if err := pgStore.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	registry := messaging.NewRegistry(db, deriver, cfg.StoreTimeout, logger)

	sched := scheduler.New(db, registry, cfg.SweepCron, cfg.StoreTimeout, logger)
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info().Str("cron", cfg.SweepCron).Dur("ttl", cfg.MessageTTL).Msg("deletion scheduler started")

	messages := messaging.NewMessages(db, deriver, sched, cfg.MessageTTL, cfg.StoreTimeout, logger)
	realtimeHub := hub.New(logger)

	h := handlers.NewHandler(db, redisStore, registry, messages, realtimeHub, logger)
	router := api.NewRouter(logger, h, db, redisStore)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting CloakPost messaging server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
