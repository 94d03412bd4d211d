// Package domain defines the persistence models for subjects, credit
// transactions, and transformation jobs. These types are mapped with GORM and
// form the core data layer of the transform pipeline.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Job statuses. Transitions are monotonic: pending → processing →
// {completed | failed}. A terminal status is never overwritten.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Ledger entry kinds. Every balance mutation writes exactly one entry.
const (
	TxKindReserve  = "reserve"
	TxKindRefund   = "refund"
	TxKindPurchase = "purchase"
	TxKindBonus    = "bonus"
)

// Subject represents a billable identity: an authenticated user or an
// anonymous fingerprint-identified visitor. Anonymous subjects are created
// lazily on first sighting of a fingerprint with a small seed balance.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ExternalID: the identity-provider user id or the visitor fingerprint;
//     unique, used for lookup on every request.
//   - Anonymous: true for fingerprint-identified visitors.
//   - PlanTier: bounds max batch size and max upload size ("free", "pro").
//   - CreditBalance: materialized counter, kept consistent with the sum of
//     ledger entries because every mutation writes both in one transaction.
type Subject struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	ExternalID    string         `json:"external_id"    gorm:"type:varchar(128);not null;uniqueIndex:ux_subject_external"`
	Anonymous     bool           `json:"anonymous"      gorm:"not null;default:false"`
	PlanTier      string         `json:"plan_tier"      gorm:"type:varchar(16);not null;default:'free'"`
	CreditBalance int64          `json:"credit_balance" gorm:"not null;default:0;check:credit_balance >= 0"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Subject.
func (Subject) TableName() string { return "subjects" }

// CreditTransaction is an immutable, append-only ledger entry. Reserves carry
// a negative amount, refunds/purchases/bonuses a positive one, so the sum of
// a subject's entries equals the drift from its seed balance.
//
// Fields:
//   - SubjectID: owner of the entry (indexed).
//   - Amount: signed credit delta.
//   - Kind: reserve | refund | purchase | bonus (enforced by DB constraint).
//   - JobID: the triggering job, if any.
//   - Reason: short machine-readable cause ("job_failed", "timeout", ...).
type CreditTransaction struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SubjectID string    `json:"subject_id" gorm:"type:char(36);not null;index:idx_subject_tx"`
	Amount    int64     `json:"amount"     gorm:"not null"`
	Kind      string    `json:"kind"       gorm:"type:varchar(16);not null;check:kind IN ('reserve','refund','purchase','bonus')"`
	JobID     *string   `json:"job_id,omitempty" gorm:"type:char(36);index"`
	Reason    string    `json:"reason"     gorm:"type:varchar(64);not null;default:''"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_subject_tx,priority:2"`

	// Subject is the owning identity. Entries are never deleted; they are
	// the audit trail for the materialized balance.
	Subject Subject `json:"-" gorm:"foreignKey:SubjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Job is the durable record of one transformation request. A Job is created
// once and never deleted; it is the audit trail of what was charged and why.
//
// Fields:
//   - Kind: transformation kind (bg_removal, upscale, face_swap).
//   - ExternalRef: the id assigned by the Transform Service on submit.
//   - Status: four-state lifecycle, monotonic.
//   - ResultURL: locator of the output artifact, set on completion.
//   - CreditsUsed: credits charged for this job; refunded at most once.
//   - FailureReason: taxonomy code when failed (timeout, upstream_rejected, ...).
type Job struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	SubjectID     string         `json:"subject_id"     gorm:"type:char(36);not null;index:idx_subject_jobs"`
	Kind          string         `json:"kind"           gorm:"type:varchar(32);not null"`
	ExternalRef   string         `json:"external_ref"   gorm:"type:varchar(128);not null;default:'';index"`
	Status        string         `json:"status"         gorm:"type:varchar(16);not null;check:status IN ('pending','processing','completed','failed')"`
	InputURL      string         `json:"input_url"      gorm:"type:text;not null;default:''"`
	ResultURL     *string        `json:"result_url,omitempty" gorm:"type:text"`
	CreditsUsed   int64          `json:"credits_used"   gorm:"not null;default:0"`
	FailureReason string         `json:"failure_reason,omitempty" gorm:"type:varchar(64);not null;default:''"`
	CreatedAt     time.Time      `json:"created_at"     gorm:"index:idx_subject_jobs,priority:2"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`

	// Subject is the billable owner of the job.
	Subject Subject `json:"-" gorm:"foreignKey:SubjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// Terminal reports whether the job has reached a state that must never be
// overwritten.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ContactMessage is a message submitted through the public contact form.
type ContactMessage struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(120);not null"`
	Email     string    `json:"email"      gorm:"type:varchar(254);not null;index"`
	Message   string    `json:"message"    gorm:"type:text;not null"`
	RemoteIP  string    `json:"-"          gorm:"type:varchar(45);not null;default:''"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ContactMessage.
func (ContactMessage) TableName() string { return "contact_messages" }
