package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

func TestContactSubmit_PersistsMessage(t *testing.T) {
	db := newServiceDB(t)
	svc := &ContactService{DB: db}

	cm, err := svc.Submit(context.Background(), "  Ada Lovelace  ", "ada@example.com", "The batch endpoint rocks.", "203.0.113.7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if cm.Name != "Ada Lovelace" {
		t.Fatalf("name = %q, want trimmed", cm.Name)
	}

	var stored domain.ContactMessage
	if err := db.First(&stored, "id = ?", cm.ID).Error; err != nil {
		t.Fatalf("loading row: %v", err)
	}
	if stored.Email != "ada@example.com" || stored.RemoteIP != "203.0.113.7" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestContactSubmit_Validation(t *testing.T) {
	db := newServiceDB(t)
	svc := &ContactService{DB: db}
	ctx := context.Background()

	cases := []struct {
		name    string
		n, e, m string
	}{
		{"blank name", "   ", "a@b.com", "hello"},
		{"blank message", "Ada", "a@b.com", "   "},
		{"bad email", "Ada", "not-an-email", "hello"},
		{"name too long", strings.Repeat("x", 121), "a@b.com", "hello"},
		{"message too long", "Ada", "a@b.com", strings.Repeat("y", 4001)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(ctx, tc.n, tc.e, tc.m, "127.0.0.1"); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	var count int64
	db.Model(&domain.ContactMessage{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected submissions persisted %d rows", count)
	}
}
