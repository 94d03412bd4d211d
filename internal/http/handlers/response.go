// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// structured error envelopes, consistent JSON serialization, and helpers for
// common patterns. The goal is uniform responses for both success and failure
// cases, making the API predictable and machine-friendly.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context.
//   - `failWithBalance()` extends the envelope with the current credit balance
//     for quota denials, so clients can render the paywall without a second
//     round trip.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/go-transform-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// RequestID correlates server logs with client-side errors, Code is a stable
// machine-readable string (see errors.go constants), and Message is a
// human-readable description safe for display. CreditBalance is present only
// on quota denials.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"insufficient_credits"`
	Message   string `json:"message" example:"not enough credits for this operation"`
	// Remaining credit balance, included on insufficient_credits responses.
	CreditBalance *int64 `json:"credit_balance,omitempty" example:"0"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP status,
// and calls gin.Context.AbortWithStatusJSON to stop further processing.
// Server errors (>=500) are logged using the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// failWithBalance is fail() with the subject's remaining balance attached,
// used for 402 quota denials.
func failWithBalance(c *gin.Context, status int, code, msg string, balance int64) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID:     c.Writer.Header().Get("X-Request-ID"),
		Code:          code,
		Message:       msg,
		CreditBalance: &balance,
	})
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return consistent
// error envelopes without depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response with the given status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
