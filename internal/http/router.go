// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, identity resolution, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/config"
	"github.com/lumapix/go-transform-backend/internal/http/handlers"
	"github.com/lumapix/go-transform-backend/internal/http/middleware"
	"github.com/lumapix/go-transform-backend/internal/idempotency"
	"github.com/lumapix/go-transform-backend/internal/ratelimit"
	"github.com/lumapix/go-transform-backend/internal/services"
	"github.com/lumapix/go-transform-backend/internal/storage"
	"github.com/lumapix/go-transform-backend/internal/transform"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. rdb may be nil, in which case rate limiting degrades to a
// process-local limiter and duplicate suppression is disabled.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs, request-scoped logger
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression for JSON responses
//  7. Metrics
//  8. CORS and Security headers
//  9. Identity: resolve the ledger subject
//  10. Rate limiter (combined subject+IP), applied per route group
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rdb *redis.Client, store storage.ObjectStore, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit: the largest plan upload, batch-sized, plus
	// multipart overhead.
	r.Use(limitBody(maxRequestBytes(cfg)))

	// 6) Compress JSON responses; binary artifacts are served pre-compressed
	// or not at all, so the static path is excluded.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/files", "/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"X-User-ID", "X-Client-Fingerprint", "X-Request-ID",
	}
	corsExpose := []string{
		"X-Request-ID", "Content-Length",
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeBadRequest, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Staged and result artifacts
	if cfg.StorageDir != "" {
		r.Static("/files", cfg.StorageDir)
	}

	// Dependency injection: services ← repo/db/redis/provider
	limiter := ratelimit.New(ratelimit.NewWindow(rdb), cfg.RateLimit)
	guard := idempotency.New(rdb, cfg.Idempotency.PendingTTL, cfg.Idempotency.CompletedTTL)

	ledgerSvc := &services.LedgerService{DB: db}
	jobSvc := &services.JobService{
		DB:              db,
		Ledger:          ledgerSvc,
		Transform:       transform.New(cfg.Transform.BaseURL, cfg.Transform.APIKey, cfg.Transform.HTTPTimeout),
		Store:           store,
		Cost:            cfg.CreditCost,
		Plan:            cfg.Plan,
		Kinds:           acceptedKinds(cfg),
		PollInterval:    cfg.Poll.Interval,
		PollMaxAttempts: cfg.Poll.MaxAttempts,
	}
	batchSvc := &services.BatchService{Jobs: jobSvc, Concurrency: cfg.BatchConcurrency}
	contactSvc := &services.ContactService{DB: db}

	h := handlers.New(jobSvc, batchSvc, ledgerSvc, guard, contactSvc)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Identity(db, &cfg))
	{
		limited := api.Group("", middleware.RateLimit(limiter))

		// Processing
		limited.POST("/process", h.PostProcess)
		limited.POST("/process/batch", h.PostBatch)
		limited.GET("/process/:id", h.GetProcess)
		limited.DELETE("/process/:id", h.CancelProcess)

		// Billing
		limited.GET("/credits", h.GetCredits)
		limited.GET("/jobs", h.ListJobs)

		// Contact sits behind its own tighter limiter.
		api.POST("/contact", middleware.ContactRateLimit(limiter), h.PostContact)
	}
}

// acceptedKinds derives the accepted job kind set from the configured costs.
// The default cost covers unlisted kinds economically, but only kinds with an
// explicit price are accepted at the API boundary.
func acceptedKinds(cfg config.Config) map[string]struct{} {
	kinds := make(map[string]struct{}, len(cfg.CreditCosts))
	for kind := range cfg.CreditCosts {
		kinds[kind] = struct{}{}
	}
	return kinds
}

// maxRequestBytes derives the body cap from the most permissive plan times its
// batch width, with headroom for multipart framing.
func maxRequestBytes(cfg config.Config) int64 {
	var limit int64 = 1 << 20
	for _, plan := range cfg.Plans {
		if n := plan.MaxFileBytes * int64(plan.MaxBatchSize); n > limit {
			limit = n
		}
	}
	return limit + (1 << 20)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints. Declared oversized bodies are rejected outright; chunked bodies
// are capped with http.MaxBytesReader, so downstream reads error at the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			handlers.Fail(c, http.StatusRequestEntityTooLarge,
				handlers.ErrCodePayloadTooLarge, "request body exceeds the upload limit")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
