package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/access"
	"github.com/eldtechnologies/confide/internal/api"
	"github.com/eldtechnologies/confide/internal/api/middleware"
	"github.com/eldtechnologies/confide/internal/config"
	"github.com/eldtechnologies/confide/internal/handlers"
	"github.com/eldtechnologies/confide/internal/logging"
	"github.com/eldtechnologies/confide/internal/render"
	"github.com/eldtechnologies/confide/internal/store"
	"github.com/eldtechnologies/confide/internal/tracing"
)

// bootstrap loads configuration and builds the process logger.
func bootstrap() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Development: cfg.IsDevelopment(),
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("log file: %w", err)
	}
	return cfg, logger, closer, nil
}

// openStore connects to the configured backend and makes sure the table exists.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.MessageStore, error) {
	s, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		PoolSize:    cfg.PoolSize,

		ConnectRetries: cfg.ConnectRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("store connection failed")
		return nil, err
	}
	logger.Info().Str("driver", s.Driver()).Int("pool_size", cfg.PoolSize).Msg("connected to message store")

	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		logger.Error().Err(err).Msg("schema setup failed")
		return nil, err
	}
	return s, nil
}

func runSchema(ctx context.Context) error {
	cfg, logger, closer, err := bootstrap()
	if err != nil {
		return err
	}
	defer closer.Close()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info().Msg("schema is up to date")
	return nil
}

func runServe(ctx context.Context) error {
	cfg, logger, closer, err := bootstrap()
	if err != nil {
		return err
	}
	defer closer.Close()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed")
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	ms, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ms.Close()

	renderer, err := render.New(cfg.TemplateDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.TemplateDir).Msg("template parsing failed")
		return err
	}

	gate, err := access.New(cfg.AccessID(), cfg.ListAccessHash)
	if err != nil {
		return err
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("redis connection failed")
			return err
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis, rate limiting enabled")
	}

	h := handlers.NewHandler(handlers.Deps{
		Store:    store.NewInstrumented(ms),
		Redis:    redisStore,
		Renderer: renderer,
		Logger:   logger,
		Location: cfg.Location,
	})

	router := api.NewRouter(api.Options{
		Logger:  logger,
		Handler: h,
		Gate:    gate,
		Redis:   redisStore,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		CORSOrigins:    cfg.CORSAllowedOrigins,
		StaticDir:      cfg.StaticDir,
		TrustedProxies: cfg.TrustedProxies,
	})

	// Create server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("timezone", cfg.Timezone).
			Msg("starting confide server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error().Err(err).Msg("server failed to start")
			return err
		}
		return nil
	case <-quit:
	}

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
