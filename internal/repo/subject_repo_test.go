package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

func TestGetOrCreateSubject_SeedsOnFirstSighting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := GetOrCreateSubject(ctx, db, "fp:abc", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.CreditBalance != 3 || !s.Anonymous || s.PlanTier != "free" {
		t.Fatalf("unexpected new subject: %+v", s)
	}

	// The seed grant is a ledger entry, keeping the no-drift invariant from row one.
	sum, err := SumTransactions(ctx, db, s.ID)
	if err != nil || sum != 3 {
		t.Fatalf("seed entry sum = (%d, %v), want (3, nil)", sum, err)
	}
}

func TestGetOrCreateSubject_SecondSightingReturnsSameRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := GetOrCreateSubject(ctx, db, "user:42", false, 10)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := GetOrCreateSubject(ctx, db, "user:42", false, 10)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same external id resolved to two subjects: %s vs %s", first.ID, second.ID)
	}

	total, _ := CountTransactions(ctx, db, first.ID)
	if total != 1 {
		t.Fatalf("entries after re-sighting = %d, want only the original seed", total)
	}
}

func TestGetOrCreateSubject_ZeroSeedWritesNoEntry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := GetOrCreateSubject(ctx, db, "ip:10.0.0.1", true, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	total, _ := CountTransactions(ctx, db, s.ID)
	if total != 0 {
		t.Fatalf("entries = %d, want 0 for a zero seed", total)
	}
}

func TestGetOrCreateSubject_EmptyExternalID(t *testing.T) {
	db := newTestDB(t)

	_, err := GetOrCreateSubject(context.Background(), db, "   ", true, 3)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrNotFound for blank external id, got %v", err)
	}
}

func TestGetSubjectByExternalID_Missing(t *testing.T) {
	db := newTestDB(t)

	_, err := GetSubjectByExternalID(context.Background(), db, "user:ghost")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{gorm.ErrDuplicatedKey, true},
		{errors.New("UNIQUE constraint failed: subjects.external_id"), true},
		{errors.New("constraint failed: UNIQUE constraint failed: subjects.external_id"), true},
		{errors.New("database is locked"), false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(tc.err); got != tc.want {
			t.Fatalf("isUniqueViolation(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// Sanity check that the subjects table rejects duplicate external ids, which
// the create/re-read race path depends on.
func TestSubjects_ExternalIDUnique(t *testing.T) {
	db := newTestDB(t)

	a := &domain.Subject{ID: "s1", ExternalID: "fp:same", PlanTier: "free"}
	b := &domain.Subject{ID: "s2", ExternalID: "fp:same", PlanTier: "free"}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := db.Create(b).Error
	if err == nil || !isUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}
