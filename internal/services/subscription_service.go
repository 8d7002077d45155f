// Package services – SubscriptionService
//
// This file implements SubscriptionService, which records new mailing-list
// signups. It validates and normalizes the submitted email and display name
// and persists the subscriber in pending state; flipping a subscriber to
// confirmed happens outside this service. Service-level errors
// (ErrInvalidEmail, ErrSubscriberExists) are returned for predictable cases
// so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SubscriptionService implements the use-cases around mailing-list signups.
type SubscriptionService struct {
	// DB is the database handle used for all subscription operations.
	DB *gorm.DB

	// NameMaxLen caps stored display names by rune length (default 255).
	NameMaxLen int
	// NameLocale selects the casing rules for name normalization.
	NameLocale language.Tag
}

// Subscribe validates and records a signup for email with the given display
// name. The subscriber starts in pending_confirmation status and takes part
// in delivery snapshots only once confirmed.
//
// Errors:
//   - ErrInvalidEmail when the address fails syntactic validation.
//   - ErrSubscriberExists when the address is already registered.
//   - The underlying DB error for unexpected failures.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, email string) (*domain.Subscriber, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, ErrInvalidEmail
	}

	name = s.normalizeName(name)
	sub, err := repo.CreateSubscriber(ctx, s.DB, name, email, domain.StatusPendingConfirmation)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrSubscriberExists
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// normalizeName trims, title-cases, and clips the display name. A blank name
// falls back to the local part convention used in outbound greetings.
func (s *SubscriptionService) normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Subscriber"
	}
	caser := cases.Title(s.localeOrDefault())
	name = caser.String(name)

	max := s.NameMaxLen
	if max <= 0 {
		max = 255
	}
	if utf8.RuneCountInString(name) > max {
		name = string([]rune(name)[:max])
	}
	return name
}

func (s *SubscriptionService) localeOrDefault() language.Tag {
	if s.NameLocale == language.Und {
		return language.English
	}
	return s.NameLocale
}
