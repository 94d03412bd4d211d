// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Subject
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a subject is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer
// and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetSubject fetches a subject by its primary key, or ErrNotFound.
func GetSubject(ctx context.Context, db *gorm.DB, id string) (*domain.Subject, error) {
	var s domain.Subject
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSubjectByExternalID fetches a subject by its identity-provider id or
// visitor fingerprint, or ErrNotFound.
func GetSubjectByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Subject, error) {
	var s domain.Subject
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateSubject returns the subject identified by externalID, creating it
// lazily on first sighting. New subjects are seeded with seedCredits and a
// matching bonus ledger entry written in the same transaction, so the balance
// invariant holds from the first row.
//
// Concurrent first sightings of the same externalID race on the unique index;
// the loser re-reads the winner's row instead of failing the request.
func GetOrCreateSubject(ctx context.Context, db *gorm.DB, externalID string, anonymous bool, seedCredits int64) (*domain.Subject, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrNotFound
	}

	if s, err := GetSubjectByExternalID(ctx, db, externalID); err == nil {
		return s, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	s := &domain.Subject{
		ID:            uuid.NewString(),
		ExternalID:    externalID,
		Anonymous:     anonymous,
		PlanTier:      "free",
		CreditBalance: seedCredits,
		CreatedAt:     now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		if seedCredits > 0 {
			entry := &domain.CreditTransaction{
				ID:        uuid.NewString(),
				SubjectID: s.ID,
				Amount:    seedCredits,
				Kind:      domain.TxKindBonus,
				Reason:    "signup_seed",
				CreatedAt: now,
			}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return GetSubjectByExternalID(ctx, db, externalID)
		}
		return nil, err
	}
	return s, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
