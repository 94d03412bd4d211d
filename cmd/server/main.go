// Command server runs the image transformation backend.
//
// Startup order: env → config → logging → tracing → database → counter store →
// artifact store → HTTP server. Shutdown drains in-flight requests before
// flushing the tracer.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumapix/go-transform-backend/internal/config"
	httpapi "github.com/lumapix/go-transform-backend/internal/http"
	"github.com/lumapix/go-transform-backend/internal/observability"
	"github.com/lumapix/go-transform-backend/internal/repo"
	"github.com/lumapix/go-transform-backend/internal/storage"
	"github.com/lumapix/go-transform-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; missing .env is not an error. SKIP_DOTENV
	// opts out for environments where the file would shadow real settings.
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		_ = godotenv.Load()
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Optional shared counter store. Absent, rate limiting degrades to a
	// process-local limiter and duplicate suppression is disabled.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup, continuing degraded")
		}
	}

	store, err := storage.NewDiskStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.StorageDir).Msg("artifact store init failed")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, rdb, store, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Batch requests can be mid-wait; give them time to settle.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown incomplete")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown incomplete")
	}
	log.Info().Msg("server stopped")
}
