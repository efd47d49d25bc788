package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tinypaste/internal/admin"
	"tinypaste/internal/config"
	"tinypaste/internal/httpserver"
	"tinypaste/internal/paste"
	"tinypaste/internal/storage/cachestore"
)

func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, kind, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	_, cached := store.(*cachestore.Store)
	logger.Info().Str("backend", kind).Bool("cache", cached).Bool("redis", cfg.RedisURL != "").Msg("store ready")
	if !cached && cfg.CacheSize > 0 {
		logger.Warn().Str("backend", kind).Msg("read cache disabled: shared backend without REDIS_URL")
	}

	svc, err := paste.NewService(store, paste.Options{MaxBytes: cfg.MaxBytes})
	if err != nil {
		return err
	}

	gate, err := admin.NewGate(admin.Config{
		PasswordHash: cfg.AdminPasswordHash,
		Password:     cfg.AdminPassword,
		Secret:       []byte(cfg.SessionSecret),
		TTL:          cfg.SessionTTL,
	})
	if err != nil {
		return errors.Wrap(err, "admin gate")
	}
	if cfg.SessionSecret == "" {
		logger.Warn().Msg("SESSION_SECRET unset; admin sessions end on restart")
	}

	srv, err := httpserver.New(httpserver.Config{
		Service:    svc,
		Gate:       gate,
		Throttle:   admin.NewLoginThrottle(),
		PageSize:   cfg.PageSize,
		TrustProxy: cfg.BehindProxy,
		BaseURL:    cfg.BaseURL,
		Logger:     logger,
	})
	if err != nil {
		return errors.Wrap(err, "construct server")
	}

	httpserver.StartStatsReporter(ctx, svc, cfg.StatsInterval, logger)

	srvHTTP := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srvHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	}
}

// newLogger writes JSON lines, or human-readable output when LOG_FORMAT is
// console. An unknown LOG_LEVEL falls back to info.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "tinypaste").Logger()
}
