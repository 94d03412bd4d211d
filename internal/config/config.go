// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, plan tiers, credit
// seeding, rate-limit ceilings, polling cadence, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-transform-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig defines the shared counter store used for rate limiting and
// idempotency. When Addr is empty the application falls back to process-local
// token buckets and in-process idempotency is limited to a single instance.
type RedisConfig struct {
	Addr     string // REDIS_ADDR, e.g. "localhost:6379"
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// LimiterConfig defines one named sliding-window rate limiter.
type LimiterConfig struct {
	Limit  int           // max requests per window
	Window time.Duration // trailing window length
}

// RateLimitConfig groups the named limiters. Each limiter counts requests in a
// trailing window against its own ceiling; processing endpoints combine the
// subject limiter with the per-IP limiter and apply the more restrictive
// outcome.
//
// Failure policy: limiter lookups fail OPEN when the counter store is
// unreachable. Quota reservation (the thing that costs money) fails closed in
// the durable store, so an unavailable Redis degrades abuse protection but
// never grants free work.
type RateLimitConfig struct {
	User    LimiterConfig // authenticated subjects, keyed by user id
	Anon    LimiterConfig // anonymous subjects, keyed by fingerprint
	IP      LimiterConfig // every caller, keyed by client IP
	Contact LimiterConfig // write-heavy endpoints (contact, checkout)
}

// PlanConfig bounds what a plan tier may submit.
type PlanConfig struct {
	MaxBatchSize int   // max items per batch request
	MaxFileBytes int64 // max size of one uploaded artifact
}

// TransformConfig defines the upstream Transform Service client surface.
type TransformConfig struct {
	BaseURL     string        // TRANSFORM_BASE_URL
	APIKey      string        // TRANSFORM_API_KEY
	HTTPTimeout time.Duration // per-request timeout on submit/status calls
}

// PollConfig drives the client-side poll loop that tracks a job to a
// terminal state.
type PollConfig struct {
	Interval    time.Duration // delay between status polls
	MaxAttempts int           // attempts before the job is failed as timeout
}

// IdempotencyConfig holds the TTLs of the two guard states.
type IdempotencyConfig struct {
	PendingTTL   time.Duration // how long a processing marker blocks duplicates
	CompletedTTL time.Duration // how long a completed result is replayed
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 120s (batch waits are long)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Credits
	AnonSeedCredits   int            // balance granted to a new anonymous subject
	UserSeedCredits   int            // balance granted to a new registered subject
	DefaultCreditCost int            // cost for kinds without an explicit entry
	CreditCosts       map[string]int // per job kind

	// Plans
	Plans map[string]PlanConfig // keyed by tier name ("free", "pro")

	// Batch
	BatchConcurrency int // concurrent submit+poll pipelines per batch

	// Rate limiting
	RateLimit RateLimitConfig

	// Counter store
	Redis RedisConfig

	// Upstream transform provider
	Transform TransformConfig

	// Poll loop
	Poll PollConfig

	// Idempotency
	Idempotency IdempotencyConfig

	// Artifact staging
	StorageDir    string // local directory for staged/result artifacts
	PublicBaseURL string // base URL under which staged artifacts are fetchable

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Credits
		AnonSeedCredits:   getint("ANON_SEED_CREDITS", 3),
		UserSeedCredits:   getint("USER_SEED_CREDITS", 10),
		DefaultCreditCost: getint("CREDIT_COST_DEFAULT", 1),
		CreditCosts: map[string]int{
			"bg_removal": getint("CREDIT_COST_BG_REMOVAL", 1),
			"upscale":    getint("CREDIT_COST_UPSCALE", 1),
			"face_swap":  getint("CREDIT_COST_FACE_SWAP", 2),
		},

		// Plans
		Plans: map[string]PlanConfig{
			"free": {
				MaxBatchSize: getint("FREE_MAX_BATCH", 5),
				MaxFileBytes: getint64("FREE_MAX_FILE_BYTES", 5<<20),
			},
			"pro": {
				MaxBatchSize: getint("PRO_MAX_BATCH", 20),
				MaxFileBytes: getint64("PRO_MAX_FILE_BYTES", 25<<20),
			},
		},

		// Batch
		BatchConcurrency: getint("BATCH_CONCURRENCY", 5),

		// Rate limiting
		RateLimit: RateLimitConfig{
			User:    LimiterConfig{Limit: getint("RATE_USER_LIMIT", 30), Window: getdur("RATE_USER_WINDOW", time.Minute)},
			Anon:    LimiterConfig{Limit: getint("RATE_ANON_LIMIT", 10), Window: getdur("RATE_ANON_WINDOW", time.Minute)},
			IP:      LimiterConfig{Limit: getint("RATE_IP_LIMIT", 60), Window: getdur("RATE_IP_WINDOW", time.Minute)},
			Contact: LimiterConfig{Limit: getint("RATE_CONTACT_LIMIT", 5), Window: getdur("RATE_CONTACT_WINDOW", time.Minute)},
		},

		// Counter store
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Upstream transform provider
		Transform: TransformConfig{
			BaseURL:     getenv("TRANSFORM_BASE_URL", "http://localhost:9090"),
			APIKey:      getenv("TRANSFORM_API_KEY", ""),
			HTTPTimeout: getdur("TRANSFORM_HTTP_TIMEOUT", 10*time.Second),
		},

		// Poll loop
		Poll: PollConfig{
			Interval:    getdur("POLL_INTERVAL", 1500*time.Millisecond),
			MaxAttempts: getint("POLL_MAX_ATTEMPTS", 60),
		},

		// Idempotency
		Idempotency: IdempotencyConfig{
			PendingTTL:   getdur("IDEMPOTENCY_PENDING_TTL", 2*time.Minute),
			CompletedTTL: getdur("IDEMPOTENCY_COMPLETED_TTL", 24*time.Hour),
		},

		// Artifact staging
		StorageDir:    getenv("STORAGE_DIR", "data/artifacts"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080/files"),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-transform-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.Transform.BaseURL = strings.TrimRight(cfg.Transform.BaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.AnonSeedCredits < 0 || cfg.UserSeedCredits < 0 {
		return cfg, errors.New("seed credits must be >= 0")
	}
	if cfg.DefaultCreditCost < 1 {
		return cfg, errors.New("CREDIT_COST_DEFAULT must be >= 1")
	}
	for kind, cost := range cfg.CreditCosts {
		if cost < 1 {
			return cfg, errors.New("credit cost for " + kind + " must be >= 1")
		}
	}
	for tier, plan := range cfg.Plans {
		if plan.MaxBatchSize < 1 || plan.MaxFileBytes < 1 {
			return cfg, errors.New("plan " + tier + " limits must be >= 1")
		}
	}
	if cfg.BatchConcurrency < 1 {
		return cfg, errors.New("BATCH_CONCURRENCY must be >= 1")
	}
	for _, lim := range []LimiterConfig{cfg.RateLimit.User, cfg.RateLimit.Anon, cfg.RateLimit.IP, cfg.RateLimit.Contact} {
		if lim.Limit < 1 || lim.Window <= 0 {
			return cfg, errors.New("rate limiters require limit >= 1 and a positive window")
		}
	}
	if strings.TrimSpace(cfg.Transform.BaseURL) == "" {
		return cfg, errors.New("TRANSFORM_BASE_URL must not be empty")
	}
	if cfg.Transform.HTTPTimeout <= 0 {
		return cfg, errors.New("TRANSFORM_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Poll.Interval <= 0 || cfg.Poll.MaxAttempts < 1 {
		return cfg, errors.New("POLL_INTERVAL must be > 0 and POLL_MAX_ATTEMPTS >= 1")
	}
	if cfg.Idempotency.PendingTTL <= 0 || cfg.Idempotency.CompletedTTL <= 0 {
		return cfg, errors.New("idempotency TTLs must be > 0")
	}
	if strings.TrimSpace(cfg.StorageDir) == "" {
		return cfg, errors.New("STORAGE_DIR must not be empty")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// CreditCost returns the configured cost for a job kind, or the default cost
// when the kind has no explicit entry.
func (c Config) CreditCost(kind string) int {
	if cost, ok := c.CreditCosts[kind]; ok {
		return cost
	}
	return c.DefaultCreditCost
}

// Plan returns the plan config for a tier, falling back to "free" for unknown
// tiers so a corrupted subject row cannot unlock larger limits.
func (c Config) Plan(tier string) PlanConfig {
	if p, ok := c.Plans[tier]; ok {
		return p
	}
	return c.Plans["free"]
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
