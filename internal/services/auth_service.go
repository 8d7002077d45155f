// Package services – AuthService
//
// This file implements AuthService, which validates operator credentials for
// the admin surface. Password hashes use bcrypt; validation deliberately runs
// a dummy comparison when the username is unknown so the two failure modes
// take comparable time.
package services

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// dummyHash is compared against when the username does not exist, keeping the
// timing of "unknown user" close to "wrong password".
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// AuthService implements credential validation and operator provisioning.
type AuthService struct {
	// DB is the database handle used for all user operations.
	DB *gorm.DB
}

// ValidateCredentials checks username/password and returns the operator's
// user ID on success. Unknown usernames and wrong passwords are both reported
// as ErrInvalidCredentials.
func (s *AuthService) ValidateCredentials(ctx context.Context, username, password string) (string, error) {
	u, err := repo.GetUserByUsername(ctx, s.DB, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return u.ID, nil
}

// EnsureUser provisions an operator account if it does not already exist.
// Used at boot to seed the admin user from configuration; an existing account
// is left untouched.
func (s *AuthService) EnsureUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := repo.GetUserByUsername(ctx, s.DB, username); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = repo.CreateUser(ctx, s.DB, username, string(hash))
	if errors.Is(err, repo.ErrDuplicate) {
		// Raced with another replica seeding the same account.
		return nil
	}
	return err
}
