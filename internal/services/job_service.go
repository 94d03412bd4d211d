// Package services – JobService
//
// This file implements the submission pipeline and the job state machine:
//
//	pending → processing → {completed | failed}
//
// Submit validates the artifact, stages it, reserves credits, hands the work
// to the Transform Service, and persists the durable job record. Poll and
// WaitForResult drive a processing job to a terminal state; every path that
// fails a job after a successful reservation refunds exactly once, guarded by
// the conditional status transition in the repo layer.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumapix/go-transform-backend/internal/config"
	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/repo"
	"github.com/lumapix/go-transform-backend/internal/storage"
	"github.com/lumapix/go-transform-backend/internal/transform"
)

// Ledger is the quota contract the job pipeline depends on.
type Ledger interface {
	Reserve(ctx context.Context, subjectID string, amount int64, jobID string) (granted bool, balanceAfter int64, err error)
	Refund(ctx context.Context, subjectID string, amount int64, reason, jobID string) error
}

// TransformClient is the upstream submit/poll contract.
type TransformClient interface {
	Submit(ctx context.Context, kind, inputURL string, params map[string]string) (*transform.SubmitResponse, error)
	Status(ctx context.Context, externalID string) (*transform.StatusResponse, error)
}

// JobService coordinates one transformation request end to end.
type JobService struct {
	DB        *gorm.DB
	Ledger    Ledger
	Transform TransformClient
	Store     storage.ObjectStore

	// Cost returns the credit price of a job kind.
	Cost func(kind string) int
	// Plan returns the limits of a subject's tier.
	Plan func(tier string) config.PlanConfig

	// Kinds is the set of accepted job kinds.
	Kinds map[string]struct{}

	// Poll loop cadence and budget.
	PollInterval    time.Duration
	PollMaxAttempts int
}

// SubmitOutcome carries the created job together with the subject's balance
// after the reservation, which handlers surface to the caller.
type SubmitOutcome struct {
	Job          *domain.Job
	BalanceAfter int64
}

// Submit runs the admission pipeline for one artifact.
//
// Ordering matters: validation and staging happen before any credit is
// touched, the reservation happens before the upstream call, and an upstream
// refusal refunds immediately so credits are never charged for work the
// provider did not accept.
func (s *JobService) Submit(ctx context.Context, subject *domain.Subject, kind, filename string, data []byte) (*SubmitOutcome, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("subject.id", subject.ID),
			attribute.String("job.kind", kind),
			attribute.Int("artifact.bytes", len(data)),
		),
	)
	defer span.End()

	// 1. Validate. Fails before any credit is touched.
	if _, ok := s.Kinds[kind]; !ok {
		return nil, ErrInvalidInput
	}
	if len(data) == 0 {
		return nil, ErrInvalidInput
	}
	if limit := s.Plan(subject.PlanTier).MaxFileBytes; int64(len(data)) > limit {
		return nil, ErrInvalidInput
	}

	// 2. Stage the artifact so the provider can fetch it. Staging failure
	// aborts before the ledger is involved.
	inputURL, err := s.Store.Put(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	// 3. Reserve credits. The job id is allocated up front so the reserve
	// entry references the job it pays for.
	cost := int64(s.Cost(kind))
	jobID := uuid.NewString()
	granted, balance, err := s.Ledger.Reserve(ctx, subject.ID, cost, jobID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return &SubmitOutcome{BalanceAfter: balance}, ErrInsufficientCredits
	}

	// 4. Persist the accepted request before the upstream call so a crash
	// between reserve and submit leaves an auditable pending row.
	job, err := repo.CreateJob(ctx, s.DB, jobID, subject.ID, kind, inputURL, cost)
	if err != nil {
		// The reservation exists but the job row does not; return the
		// credits rather than stranding them.
		_ = s.Ledger.Refund(ctx, subject.ID, cost, ReasonInternal, jobID)
		return nil, err
	}

	// 5. Hand the work to the Transform Service. A refusal fails the job and
	// refunds; the taxonomy distinguishes "provider down" from "provider
	// said no".
	ack, err := s.Transform.Submit(ctx, kind, inputURL, nil)
	if err != nil {
		reason, svcErr := classifyUpstream(err)
		s.failAndRefund(ctx, job, reason)
		return &SubmitOutcome{Job: job, BalanceAfter: balance + cost}, svcErr
	}

	if _, err := repo.MarkJobProcessing(ctx, s.DB, job.ID, ack.ExternalID); err != nil {
		s.failAndRefund(ctx, job, ReasonInternal)
		return nil, err
	}
	job.Status = domain.JobStatusProcessing
	job.ExternalRef = ack.ExternalID

	// 6. Best-effort usage metering; never blocks or fails the response.
	s.emitUsage(subject.ID, kind, cost)

	return &SubmitOutcome{Job: job, BalanceAfter: balance}, nil
}

// Get fetches a job scoped to its owner.
func (s *JobService) Get(ctx context.Context, subjectID, jobID string) (*domain.Job, error) {
	job, err := repo.GetJob(ctx, s.DB, jobID, subjectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Poll performs one status observation for a processing job and applies any
// terminal transition it reveals. Terminal jobs are returned unchanged;
// a terminal status is never overwritten.
//
// A provider outage during a poll is not a job failure: the job stays in
// processing and the error is returned so the loop can count the attempt.
func (s *JobService) Poll(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.Terminal() {
		return job, nil
	}

	st, err := s.Transform.Status(ctx, job.ExternalRef)
	if err != nil {
		return job, ErrUpstreamUnavailable
	}

	switch st.Status {
	case transform.ProviderReady:
		won, err := repo.CompleteJob(ctx, s.DB, job.ID, st.ResultURL)
		if err != nil {
			return job, err
		}
		if won {
			job.Status = domain.JobStatusCompleted
			job.ResultURL = &st.ResultURL
			jobsTotal.WithLabelValues(job.Kind, domain.JobStatusCompleted).Inc()
		}
		return s.reload(ctx, job)

	case transform.ProviderError:
		s.failAndRefund(ctx, job, ReasonUpstreamRejected)
		return s.reload(ctx, job)

	default: // queued, processing, or unknown vocabulary: keep waiting
		return job, nil
	}
}

// WaitForResult drives a job to a terminal state by polling at a fixed
// interval with a bounded attempt budget. Exhausting the budget (or the
// context) force-terminates the job as failed/timeout with a refund, which
// is the system's cancellation path.
func (s *JobService) WaitForResult(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "WaitForResult",
		trace.WithAttributes(attribute.String("job.id", job.ID)),
	)
	defer span.End()

	attempts := 0
	for attempts < s.PollMaxAttempts {
		attempts++

		polled, err := s.Poll(ctx, job)
		if err == nil {
			job = polled
			if job.Terminal() {
				pollAttempts.Observe(float64(attempts))
				if job.Status == domain.JobStatusFailed {
					return job, failureError(job.FailureReason)
				}
				return job, nil
			}
		}
		// Unavailable polls burn an attempt; persistent outage becomes a
		// timeout rather than an instant failure.

		select {
		case <-ctx.Done():
			// The caller is gone, but the terminal transition and refund
			// must still land; a canceled context would abort the writes.
			done := context.WithoutCancel(ctx)
			s.failAndRefund(done, job, ReasonTimeout)
			return s.mustReload(done, job), ErrTimeout
		case <-time.After(s.PollInterval):
		}
	}

	done := context.WithoutCancel(ctx)
	s.failAndRefund(done, job, ReasonTimeout)
	pollAttempts.Observe(float64(attempts))
	return s.mustReload(done, job), ErrTimeout
}

// Cancel transitions a non-terminal job to failed/canceled and refunds. It
// shares the transition guard with the poller, so a cancel racing a
// completion observes whichever transition won.
func (s *JobService) Cancel(ctx context.Context, subjectID, jobID string) (*domain.Job, error) {
	job, err := s.Get(ctx, subjectID, jobID)
	if err != nil {
		return nil, err
	}
	s.failAndRefund(ctx, job, ReasonCanceled)
	return s.reload(ctx, job)
}

// failAndRefund applies the failed transition and, only when this caller won
// it, refunds the job's credits. The RowsAffected guard in repo.FailJob is
// what bounds refunds to at most one per job under concurrent pollers.
func (s *JobService) failAndRefund(ctx context.Context, job *domain.Job, reason string) {
	won, err := repo.FailJob(ctx, s.DB, job.ID, reason)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("fail transition errored")
		return
	}
	if !won {
		return // already terminal; refund belongs to the winner
	}
	job.Status = domain.JobStatusFailed
	job.FailureReason = reason
	jobsTotal.WithLabelValues(job.Kind, domain.JobStatusFailed).Inc()

	if job.CreditsUsed > 0 {
		_ = s.Ledger.Refund(ctx, job.SubjectID, job.CreditsUsed, reason, job.ID)
	}
}

// emitUsage reports a metering event. Best-effort: a lost event never blocks
// or fails the user-facing response.
func (s *JobService) emitUsage(subjectID, kind string, cost int64) {
	usageEvents.WithLabelValues(kind).Inc()
	log.Info().
		Str("event", "usage").
		Str("subject_id", subjectID).
		Str("kind", kind).
		Int64("credits", cost).
		Msg("usage event")
}

// reload returns the current row for job, falling back to the in-memory copy
// when the read fails.
func (s *JobService) reload(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	fresh, err := repo.GetJob(ctx, s.DB, job.ID, job.SubjectID)
	if err != nil {
		return job, nil
	}
	return fresh, nil
}

func (s *JobService) mustReload(ctx context.Context, job *domain.Job) *domain.Job {
	fresh, _ := s.reload(ctx, job)
	return fresh
}

// classifyUpstream maps a transform client error onto the failure taxonomy.
func classifyUpstream(err error) (reason string, svcErr error) {
	if errors.Is(err, transform.ErrRejected) {
		return ReasonUpstreamRejected, ErrUpstreamRejected
	}
	return ReasonUpstreamUnavailable, ErrUpstreamUnavailable
}

// failureError maps a recorded failure reason back onto the taxonomy.
func failureError(reason string) error {
	switch reason {
	case ReasonUpstreamRejected:
		return ErrUpstreamRejected
	case ReasonUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case ReasonTimeout:
		return ErrTimeout
	default:
		return errors.New(reason)
	}
}
