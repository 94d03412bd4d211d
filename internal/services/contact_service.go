// Package services – ContactService
//
// This file implements the ContactService, which persists messages submitted
// through the public contact form. Validation happens here so every transport
// (HTTP today, queue consumers tomorrow) enforces the same rules.
package services

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

// Field ceilings for contact submissions.
const (
	maxContactNameRunes    = 120
	maxContactMessageRunes = 4000
)

// ContactService records contact form submissions.
type ContactService struct {
	// DB is the database handle used for all contact operations.
	DB *gorm.DB
}

// Submit validates and stores one contact message.
//
// Name and message must be non-empty after trimming and within their rune
// ceilings; email must parse as an address. Violations return ErrInvalidInput.
func (s *ContactService) Submit(ctx context.Context, name, email, message, remoteIP string) (*domain.ContactMessage, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	message = strings.TrimSpace(message)

	if name == "" || utf8.RuneCountInString(name) > maxContactNameRunes {
		return nil, ErrInvalidInput
	}
	if message == "" || utf8.RuneCountInString(message) > maxContactMessageRunes {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	cm := &domain.ContactMessage{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Message:   message,
		RemoteIP:  remoteIP,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(cm).Error; err != nil {
		return nil, err
	}
	return cm, nil
}
