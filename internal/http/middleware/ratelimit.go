// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts the sliding-window limiter to Gin. RateLimit() guards the
// processing endpoints with the combined subject+IP check; ContactRateLimit()
// guards the contact form with a tighter, IP-keyed ceiling. Denials return 429
// with standard X-RateLimit-* headers and a Retry-After hint.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/go-transform-backend/internal/ratelimit"
)

// RateLimit returns a Gin middleware enforcing the combined per-subject and
// per-IP sliding windows. The subject limiter tier (user vs anon) follows the
// identity resolved by Identity(), so this must be placed after it.
//
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset (unix seconds) for the tighter of the two windows.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := SubjectFrom(c)
		subjectTier := SubjectLimiter(subject)

		subjectID := c.ClientIP()
		if subject != nil {
			subjectID = subject.ID
		}

		res := limiter.CheckCombined(c.Request.Context(), subjectTier, subjectID, c.ClientIP())
		writeRateHeaders(c, res)

		if !res.Allowed {
			deny(c, res)
			return
		}
		c.Next()
	}
}

// ContactRateLimit returns a Gin middleware for abuse-prone write endpoints.
// It is keyed by client IP only, since contact submissions do not require a
// resolved subject.
func ContactRateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := limiter.Check(c.Request.Context(), ratelimit.LimiterContact, c.ClientIP())
		writeRateHeaders(c, res)

		if !res.Allowed {
			deny(c, res)
			return
		}
		c.Next()
	}
}

func writeRateHeaders(c *gin.Context, res ratelimit.Result) {
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func deny(c *gin.Context, res ratelimit.Result) {
	retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	httpRateLimited.WithLabelValues(res.LimitedBy).Inc()

	rid, _ := c.Get(requestIDKey)
	msg := "rate limit exceeded, slow down"
	if res.LimitedBy == ratelimit.LimiterIP {
		msg = "too many requests from this address, slow down"
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": asString(rid),
		"code":       "rate_limited",
		"message":    msg,
	})
}
