// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the credit ledger primitives: an atomic
// conditional reserve, an unconditional credit (refund/purchase/bonus), and
// ledger entry queries.
//
// The reserve is the linearization point for concurrent spending: the
// conditional UPDATE checks and decrements the balance in a single statement,
// so two racing reserves against a subject with one remaining credit cannot
// both be granted. Every balance mutation appends exactly one ledger entry in
// the same transaction, keeping the materialized counter consistent with the
// entry sum by construction.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

// ErrInsufficientBalance indicates that a reserve was denied because the
// subject's balance was below the requested amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ReserveCredits atomically decrements the subject's balance by amount if the
// balance covers it, and appends a reserve ledger entry in the same
// transaction. It returns the balance after the operation.
//
// Denial semantics: when the balance is insufficient, nothing is written and
// ErrInsufficientBalance is returned together with the current balance. Any
// store error fails the reserve closed; the caller must not treat a failed
// reserve as granted.
func ReserveCredits(ctx context.Context, db *gorm.DB, subjectID string, amount int64, jobID string) (balanceAfter int64, err error) {
	if amount <= 0 {
		return 0, errors.New("reserve amount must be positive")
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Subject{}).
			Where("id = ? AND credit_balance >= ?", subjectID, amount).
			UpdateColumn("credit_balance", gorm.Expr("credit_balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Distinguish "no such subject" from "not enough credit".
			var s domain.Subject
			if gerr := tx.Where("id = ?", subjectID).First(&s).Error; gerr != nil {
				return gerr
			}
			balanceAfter = s.CreditBalance
			return ErrInsufficientBalance
		}

		jid := jobID
		entry := &domain.CreditTransaction{
			ID:        uuid.NewString(),
			SubjectID: subjectID,
			Amount:    -amount,
			Kind:      domain.TxKindReserve,
			Reason:    "job_submit",
			CreatedAt: time.Now().UTC(),
		}
		if jid != "" {
			entry.JobID = &jid
		}
		if cerr := tx.Create(entry).Error; cerr != nil {
			return cerr
		}

		var s domain.Subject
		if gerr := tx.Where("id = ?", subjectID).First(&s).Error; gerr != nil {
			return gerr
		}
		balanceAfter = s.CreditBalance
		return nil
	})
	return balanceAfter, err
}

// CreditSubject increments the subject's balance by amount and appends a
// ledger entry of the given kind in the same transaction. Used for refunds,
// purchases, and bonuses; it returns the balance after the operation.
func CreditSubject(ctx context.Context, db *gorm.DB, subjectID string, amount int64, kind, reason, jobID string) (balanceAfter int64, err error) {
	if amount <= 0 {
		return 0, errors.New("credit amount must be positive")
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Subject{}).
			Where("id = ?", subjectID).
			UpdateColumn("credit_balance", gorm.Expr("credit_balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		jid := jobID
		entry := &domain.CreditTransaction{
			ID:        uuid.NewString(),
			SubjectID: subjectID,
			Amount:    amount,
			Kind:      kind,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}
		if jid != "" {
			entry.JobID = &jid
		}
		if cerr := tx.Create(entry).Error; cerr != nil {
			return cerr
		}

		var s domain.Subject
		if gerr := tx.Where("id = ?", subjectID).First(&s).Error; gerr != nil {
			return gerr
		}
		balanceAfter = s.CreditBalance
		return nil
	})
	return balanceAfter, err
}

// HasRefundForJob reports whether a refund entry already exists for jobID.
// The status-transition guard in FailJob is the primary double-refund defense;
// this query backs the ledger-drift assertions in tests and admin tooling.
func HasRefundForJob(ctx context.Context, db *gorm.DB, jobID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("job_id = ? AND kind = ?", jobID, domain.TxKindRefund).
		Count(&n).Error
	return n > 0, err
}

// CountTransactions returns the total number of ledger entries for a subject.
func CountTransactions(ctx context.Context, db *gorm.DB, subjectID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("subject_id = ?", subjectID).
		Count(&total).Error
	return total, err
}

// ListTransactionsPage returns a page of ledger entries for a subject, newest
// first. The caller computes offset and limit.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, subjectID string, offset, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SumTransactions returns the sum of all entry amounts for a subject. Together
// with the seed entries it must equal the materialized balance (no drift).
func SumTransactions(ctx context.Context, db *gorm.DB, subjectID string) (int64, error) {
	var sum *int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("subject_id = ?", subjectID).
		Select("SUM(amount)").
		Scan(&sum).Error
	if err != nil || sum == nil {
		return 0, err
	}
	return *sum, nil
}
