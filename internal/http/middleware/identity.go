// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling subject for quota and rate limiting. Every
// request maps to exactly one ledger subject:
//
//   - X-User-ID present    → registered subject (set by the auth gateway)
//   - X-Client-Fingerprint → anonymous subject keyed by browser fingerprint
//   - neither              → anonymous subject keyed by client IP
//
// First contact creates the subject row with its seed credit grant, so the
// free tier works without any signup step.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/config"
	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/ratelimit"
	"github.com/lumapix/go-transform-backend/internal/repo"
)

const (
	// subjectKey is the Gin context key holding the resolved *domain.Subject.
	subjectKey = "subject"
	// subjectIDKey holds the subject id as a string for cheap log access.
	subjectIDKey = "subjectID"

	userIDHeader      = "X-User-ID"
	fingerprintHeader = "X-Client-Fingerprint"
)

// Identity resolves (and on first contact creates) the ledger subject for the
// request and stores it in the Gin context. Requests that cannot be resolved
// to a subject are rejected with 500 only when the database itself fails; the
// IP fallback means resolution itself never fails for lack of headers.
//
// Place this after Logger() and before RateLimit() so denials are logged and
// counted per subject.
func Identity(db *gorm.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		externalID, anonymous := callerIdentity(c)

		seed := int64(cfg.AnonSeedCredits)
		if !anonymous {
			seed = int64(cfg.UserSeedCredits)
		}

		subject, err := repo.GetOrCreateSubject(c.Request.Context(), db, externalID, anonymous, seed)
		if err != nil {
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().Err(err).Str("external_id", externalID).Msg("subject resolution failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}

		c.Set(subjectKey, subject)
		c.Set(subjectIDKey, subject.ID)
		c.Next()
	}
}

// callerIdentity derives the external subject key and the anonymity flag from
// request headers. Keys are prefixed by origin so a fingerprint can never
// collide with a user id or an IP.
func callerIdentity(c *gin.Context) (externalID string, anonymous bool) {
	if uid := strings.TrimSpace(c.GetHeader(userIDHeader)); uid != "" {
		return "user:" + uid, false
	}
	if fp := strings.TrimSpace(c.GetHeader(fingerprintHeader)); fp != "" {
		return "fp:" + fp, true
	}
	return "ip:" + c.ClientIP(), true
}

// SubjectFrom returns the subject resolved by Identity, or nil when the
// middleware did not run on this route.
func SubjectFrom(c *gin.Context) *domain.Subject {
	if v, ok := c.Get(subjectKey); ok {
		if s, ok := v.(*domain.Subject); ok {
			return s
		}
	}
	return nil
}

// SubjectLimiter returns the rate limiter name matching the subject's
// anonymity, defaulting to the anonymous tier when no subject is attached.
func SubjectLimiter(s *domain.Subject) string {
	if s != nil && !s.Anonymous {
		return ratelimit.LimiterUser
	}
	return ratelimit.LimiterAnon
}
