// Package services defines the business logic for the transform pipeline:
// quota ledger, job submission and polling, and batch orchestration. This
// file centralizes the service-level error taxonomy so that it can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; handlers
// translate them into user-facing messages and HTTP status codes.
package services

import "errors"

var (
	// ErrInvalidInput is returned when the uploaded artifact or job kind
	// fails validation. No credit is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientCredits is returned when the quota ledger denies a
	// reservation. Recoverable by purchase or upgrade.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUpstreamUnavailable indicates a transient transform-provider
	// failure. The reservation is refunded; safe to retry.
	ErrUpstreamUnavailable = errors.New("transform service unavailable")

	// ErrUpstreamRejected indicates a content-specific provider refusal
	// (e.g. no face detected). Refunded, not retried automatically.
	ErrUpstreamRejected = errors.New("transform service rejected input")

	// ErrTimeout is returned when polling exceeded its attempt budget. The
	// job is failed, the reservation refunded; safe to resubmit.
	ErrTimeout = errors.New("transform timed out")

	// ErrJobNotFound indicates that the job does not exist or is not owned
	// by the requesting subject.
	ErrJobNotFound = errors.New("job not found")

	// ErrBatchTooLarge is returned when a batch exceeds the plan ceiling.
	ErrBatchTooLarge = errors.New("batch exceeds plan limit")
)

// Failure reasons recorded on failed jobs. They mirror the error taxonomy so
// the audit trail explains every refund.
const (
	ReasonUpstreamRejected    = "upstream_rejected"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonTimeout             = "timeout"
	ReasonCanceled            = "canceled"
	ReasonInternal            = "internal_error"
)
