// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Subscriber
// model (the subscriber directory queried by the outbox writer).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateSubscriber inserts a new subscriber row with UUID primary key and UTC
// timestamp. Returns ErrDuplicate when the email is already registered.
func CreateSubscriber(ctx context.Context, db *gorm.DB, name, email, status string) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Status:       status,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriberByEmail fetches a subscriber by email, or ErrNotFound.
func GetSubscriberByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := db.WithContext(ctx).Where("email = ?", email).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// ConfirmSubscriber flips a subscriber to confirmed status. It is used by
// operational tooling and fixtures; the confirmation workflow itself lives
// outside this service.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, email string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("email = ?", email).
		Update("status", domain.StatusConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountConfirmedSubscribers returns the size of the current delivery snapshot.
func CountConfirmedSubscribers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("status = ?", domain.StatusConfirmed).
		Count(&total).Error
	return total, err
}
