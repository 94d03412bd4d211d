package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q, want release", cfg.GinMode)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.AnonSeedCredits != 3 || cfg.UserSeedCredits != 10 {
		t.Errorf("seed credits = (%d, %d)", cfg.AnonSeedCredits, cfg.UserSeedCredits)
	}
	if cfg.Poll.Interval != 1500*time.Millisecond || cfg.Poll.MaxAttempts != 60 {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty default", cfg.Redis.Addr)
	}
}

func TestLoad_EnvOverridesAndNormalization(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("GIN_MODE", "weird")
	t.Setenv("API_BASE_PATH", "v2/")
	t.Setenv("PUBLIC_BASE_URL", "http://cdn.example.com/files/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.com, https://b.com ,")
	t.Setenv("CREDIT_COST_FACE_SWAP", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q, want release fallback", cfg.GinMode)
	}
	if cfg.APIBasePath != "/v2" {
		t.Errorf("APIBasePath = %q, want /v2", cfg.APIBasePath)
	}
	if cfg.PublicBaseURL != "http://cdn.example.com/files" {
		t.Errorf("PublicBaseURL = %q, want trailing slash stripped", cfg.PublicBaseURL)
	}
	if got := cfg.CORS.AllowedOrigins; len(got) != 2 || got[0] != "https://a.com" || got[1] != "https://b.com" {
		t.Errorf("AllowedOrigins = %v", got)
	}
	if cfg.CreditCost("face_swap") != 3 {
		t.Errorf("face_swap cost = %d, want 3", cfg.CreditCost("face_swap"))
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		k, v string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero poll attempts", "POLL_MAX_ATTEMPTS", "0"},
		{"zero credit cost", "CREDIT_COST_UPSCALE", "0"},
		{"zero batch concurrency", "BATCH_CONCURRENCY", "0"},
		{"zero rate limit", "RATE_ANON_LIMIT", "0"},
		{"negative seed", "ANON_SEED_CREDITS", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.k, tc.v)
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %s=%s", tc.k, tc.v)
			}
		})
	}
}

func TestCreditCost_FallsBackToDefault(t *testing.T) {
	cfg := Config{DefaultCreditCost: 2, CreditCosts: map[string]int{"upscale": 1}}
	if cfg.CreditCost("upscale") != 1 {
		t.Fatalf("explicit cost not used")
	}
	if cfg.CreditCost("colorize") != 2 {
		t.Fatalf("unknown kind did not fall back to default")
	}
}

func TestPlan_UnknownTierFallsBackToFree(t *testing.T) {
	cfg := Config{Plans: map[string]PlanConfig{
		"free": {MaxBatchSize: 5, MaxFileBytes: 1 << 20},
		"pro":  {MaxBatchSize: 20, MaxFileBytes: 25 << 20},
	}}
	if p := cfg.Plan("enterprise"); p.MaxBatchSize != 5 {
		t.Fatalf("unknown tier plan = %+v, want free", p)
	}
	if p := cfg.Plan("pro"); p.MaxBatchSize != 20 {
		t.Fatalf("pro plan = %+v", p)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/", "/"},
		{"api", "/api"},
		{"/api/v1/", "/api/v1"},
		{"  /api  ", "/api"},
	}
	for _, tc := range cases {
		if got := normalizeBasePath(tc.in); got != tc.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
