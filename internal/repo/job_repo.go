// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job model.
//
// Status transitions are enforced here with guarded conditional updates:
// terminal rows never match the WHERE clause, so a second failure observation
// (from a racing poller) is a no-op whose RowsAffected tells the caller
// whether it won the transition. That guard is what makes the failed→refund
// pairing exactly-once.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

// CreateJob inserts a new Job row in pending. The id is allocated by the
// caller so the reserve ledger entry can reference the job it pays for.
func CreateJob(ctx context.Context, db *gorm.DB, id, subjectID, kind, inputURL string, creditsUsed int64) (*domain.Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	j := &domain.Job{
		ID:          id,
		SubjectID:   subjectID,
		Kind:        kind,
		Status:      domain.JobStatusPending,
		InputURL:    inputURL,
		CreditsUsed: creditsUsed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob fetches a job by id scoped to its owner, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id, subjectID string) (*domain.Job, error) {
	var j domain.Job
	err := db.WithContext(ctx).
		Where("id = ? AND subject_id = ?", id, subjectID).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkJobProcessing transitions pending → processing and records the external
// reference assigned by the Transform Service. Returns false when the job was
// not in pending (already advanced or terminal).
func MarkJobProcessing(ctx context.Context, db *gorm.DB, id, externalRef string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]any{
			"status":       domain.JobStatusProcessing,
			"external_ref": externalRef,
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CompleteJob transitions a non-terminal job to completed and records the
// result locator. Returns false when the job was already terminal.
func CompleteJob(ctx context.Context, db *gorm.DB, id, resultURL string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []string{domain.JobStatusPending, domain.JobStatusProcessing}).
		Updates(map[string]any{
			"status":     domain.JobStatusCompleted,
			"result_url": resultURL,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// FailJob transitions a non-terminal job to failed with a taxonomy reason.
// Returns false when the job was already terminal; the caller must refund
// only on true, which bounds refunds to at most one per job even under
// concurrent pollers.
func FailJob(ctx context.Context, db *gorm.DB, id, reason string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []string{domain.JobStatusPending, domain.JobStatusProcessing}).
		Updates(map[string]any{
			"status":         domain.JobStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CountJobs returns the total number of jobs owned by a subject.
func CountJobs(ctx context.Context, db *gorm.DB, subjectID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("subject_id = ?", subjectID).
		Count(&total).Error
	return total, err
}

// ListJobsPage returns a page of jobs for a subject, newest first. The caller
// computes offset and limit.
func ListJobsPage(ctx context.Context, db *gorm.DB, subjectID string, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
