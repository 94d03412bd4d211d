// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses via the `fail()` helper in this package. These codes give clients
// a stable, machine-readable error taxonomy that supplements human-readable
// messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (bad_request, not_found) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (insufficient_credits, upstream_rejected) are
//     reserved for business outcomes that a status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "insufficient_credits",
//	  "message": "not enough credits for this operation"
//	}
package handlers

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"

	// Domain-specific:
	ErrCodeInsufficientCredits = "insufficient_credits"
	ErrCodeDuplicateInFlight   = "duplicate_in_flight"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeUpstreamRejected    = "upstream_rejected"
	ErrCodeBatchTooLarge       = "batch_too_large"
	ErrCodePayloadTooLarge     = "payload_too_large"
)
