package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumapix/go-transform-backend/internal/config"
	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

//
// RequestID / Logger
//

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no X-Request-ID generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec = serve(r, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-id" {
		t.Fatalf("X-Request-ID = %q, want the client's id echoed", got)
	}
}

func TestRecovery_ReturnsJSONEnvelope(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("panic response not JSON: %v", err)
	}
	if body["code"] != "internal_error" {
		t.Fatalf("code = %v", body["code"])
	}
}

//
// SecurityHeaders
//

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(SecurityOptions{NoStore: true, EnablePolicy: true}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	h := rec.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if h.Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame deny")
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Error("missing no-store")
	}
	if h.Get("Permissions-Policy") == "" {
		t.Error("missing permissions policy")
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS emitted without opt-in")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS emitted for plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = serve(r, req)
	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

//
// Identity
//

func newIdentityDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Subject{}, &domain.CreditTransaction{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func TestIdentity_RegisteredUser(t *testing.T) {
	db := newIdentityDB(t)
	cfg := &config.Config{AnonSeedCredits: 3, UserSeedCredits: 10}
	var seen *domain.Subject
	r := gin.New()
	r.Use(Identity(db, cfg))
	r.GET("/x", func(c *gin.Context) {
		seen = SubjectFrom(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-User-ID", "alice-7")
	serve(r, req)

	if seen == nil {
		t.Fatal("no subject resolved")
	}
	if seen.ExternalID != "user:alice-7" || seen.Anonymous {
		t.Fatalf("subject = %+v", seen)
	}
	if seen.CreditBalance != 10 {
		t.Fatalf("seed = %d, want user seed 10", seen.CreditBalance)
	}
}

func TestIdentity_FingerprintAndIPFallback(t *testing.T) {
	db := newIdentityDB(t)
	cfg := &config.Config{AnonSeedCredits: 3, UserSeedCredits: 10}
	var seen *domain.Subject
	r := gin.New()
	r.Use(Identity(db, cfg))
	r.GET("/x", func(c *gin.Context) {
		seen = SubjectFrom(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Client-Fingerprint", "fp-123")
	serve(r, req)
	if seen == nil || seen.ExternalID != "fp:fp-123" || !seen.Anonymous || seen.CreditBalance != 3 {
		t.Fatalf("fingerprint subject = %+v", seen)
	}

	serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == nil || seen.Anonymous != true {
		t.Fatalf("ip subject = %+v", seen)
	}
	if got := seen.ExternalID[:3]; got != "ip:" {
		t.Fatalf("external id = %q, want ip: prefix", seen.ExternalID)
	}
}

func TestIdentity_SameCallerSameSubject(t *testing.T) {
	db := newIdentityDB(t)
	cfg := &config.Config{AnonSeedCredits: 3, UserSeedCredits: 10}
	var seen *domain.Subject
	r := gin.New()
	r.Use(Identity(db, cfg))
	r.GET("/x", func(c *gin.Context) {
		seen = SubjectFrom(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-User-ID", "bob")
	serve(r, req)
	first := seen.ID

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-User-ID", "bob")
	serve(r, req)
	if seen.ID != first {
		t.Fatalf("second sighting created a new subject: %s vs %s", seen.ID, first)
	}
	if seen.CreditBalance != 10 {
		t.Fatalf("balance = %d, seed applied twice", seen.CreditBalance)
	}
}

//
// RateLimit
//

func limiterForTest(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg := config.RateLimitConfig{
		User:    config.LimiterConfig{Limit: 5, Window: time.Minute},
		Anon:    config.LimiterConfig{Limit: 2, Window: time.Minute},
		IP:      config.LimiterConfig{Limit: 10, Window: time.Minute},
		Contact: config.LimiterConfig{Limit: 1, Window: time.Minute},
	}
	return ratelimit.New(ratelimit.NewWindow(rdb), cfg)
}

func TestRateLimit_DeniesWithHeaders(t *testing.T) {
	limiter := limiterForTest(t)
	subject := &domain.Subject{ID: "subj-1", Anonymous: true}
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(subjectKey, subject) })
	r.Use(RateLimit(limiter))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Anon ceiling is 2.
	for i := 0; i < 2; i++ {
		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Fatal("missing X-RateLimit-Limit on allowed response")
		}
	}

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("deny body not JSON: %v", err)
	}
	if body["code"] != "rate_limited" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestContactRateLimit(t *testing.T) {
	limiter := limiterForTest(t)
	r := gin.New()
	r.Use(ContactRateLimit(limiter))
	r.POST("/contact", func(c *gin.Context) { c.Status(http.StatusCreated) })

	if rec := serve(r, httptest.NewRequest(http.MethodPost, "/contact", nil)); rec.Code != http.StatusCreated {
		t.Fatalf("first: status = %d", rec.Code)
	}
	if rec := serve(r, httptest.NewRequest(http.MethodPost, "/contact", nil)); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", rec.Code)
	}
}

func TestSubjectLimiter(t *testing.T) {
	if got := SubjectLimiter(nil); got != ratelimit.LimiterAnon {
		t.Fatalf("nil subject limiter = %q", got)
	}
	if got := SubjectLimiter(&domain.Subject{Anonymous: true}); got != ratelimit.LimiterAnon {
		t.Fatalf("anon subject limiter = %q", got)
	}
	if got := SubjectLimiter(&domain.Subject{Anonymous: false}); got != ratelimit.LimiterUser {
		t.Fatalf("user subject limiter = %q", got)
	}
}
