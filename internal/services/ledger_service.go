// Package services – LedgerService
//
// This file implements the quota ledger: atomic credit reservation and
// unconditional refunds, both paired with append-only transaction entries by
// the repo layer. The service adds the policy on top of the storage
// primitive: reservations fail closed (a store error is a denial, the system
// never speculatively grants), refunds always go through, and every
// successful movement is metered.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/repo"
)

// LedgerService implements credit reservation and refund against the durable
// store. It is safe for concurrent use; linearization of racing reserves
// happens in the store's conditional update, not in process memory.
type LedgerService struct {
	// DB is the database handle used for all ledger operations.
	DB *gorm.DB
}

// Reserve attempts to take amount credits from the subject. It reports
// whether the reservation was granted and the balance after the call.
//
// Fail-closed: any store error is returned with granted=false; the caller
// must treat it as a denial. A denial for insufficient balance is not an
// error: granted=false with err=nil and the current balance.
func (s *LedgerService) Reserve(ctx context.Context, subjectID string, amount int64, jobID string) (granted bool, balanceAfter int64, err error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Reserve",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.Int64("credits.amount", amount),
		),
	)
	defer span.End()

	balanceAfter, err = repo.ReserveCredits(ctx, s.DB, subjectID, amount, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrInsufficientBalance) {
			return false, balanceAfter, nil
		}
		return false, 0, err
	}

	creditsReserved.Add(float64(amount))
	return true, balanceAfter, nil
}

// Refund returns amount credits to the subject with a refund ledger entry.
// Credits lost to a failed external call are always returned; callers guard
// double refunds via the job status transition, not here.
func (s *LedgerService) Refund(ctx context.Context, subjectID string, amount int64, reason, jobID string) error {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Refund",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.Int64("credits.amount", amount),
			attribute.String("refund.reason", reason),
		),
	)
	defer span.End()

	_, err := repo.CreditSubject(ctx, s.DB, subjectID, amount, domain.TxKindRefund, reason, jobID)
	if err != nil {
		// A refund that cannot be written is a consistency incident, not a
		// user-facing failure; it is logged for reconciliation.
		log.Error().Err(err).
			Str("subject_id", subjectID).
			Str("job_id", jobID).
			Int64("amount", amount).
			Msg("refund write failed")
		return err
	}

	creditsRefunded.Add(float64(amount))
	return nil
}

// Grant credits a subject outside the job flow (purchase webhook, promo
// bonus). kind must be purchase or bonus.
func (s *LedgerService) Grant(ctx context.Context, subjectID string, amount int64, kind, reason string) (int64, error) {
	if kind != domain.TxKindPurchase && kind != domain.TxKindBonus {
		return 0, errors.New("grant kind must be purchase or bonus")
	}
	return repo.CreditSubject(ctx, s.DB, subjectID, amount, kind, reason, "")
}
