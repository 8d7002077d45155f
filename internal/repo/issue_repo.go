// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the outbox writer: inside one caller
// transaction it records a NewsletterIssue and enqueues one delivery task per
// confirmed subscriber, so that consumers of the queue can never observe an
// issue without its tasks or tasks for a rolled-back issue.
//
// Error semantics:
//   - When an issue is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateIssue inserts a new NewsletterIssue row inside the caller's
// transaction. The issue ID is a randomly generated UUID and PublishedAt is
// set to UTC now. The function has no independent commit; atomicity is the
// caller's responsibility.
func CreateIssue(tx *gorm.DB, title, textContent, htmlContent string) (*domain.NewsletterIssue, error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		TextContent: textContent,
		HTMLContent: htmlContent,
		PublishedAt: time.Now().UTC(),
	}
	if err := tx.Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

// EnqueueDeliveries inserts one DeliveryTask per subscriber whose status is
// confirmed at the time of the query, using a single set-based INSERT..SELECT
// to avoid a round trip per recipient. It runs entirely inside the caller's
// transaction: the queue rows become durable and visible only if and when
// that transaction commits.
//
// Returns the number of tasks enqueued (the recipient snapshot size).
func EnqueueDeliveries(tx *gorm.DB, issueID string) (int64, error) {
	res := tx.Exec(`
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email, n_retries, execute_after)
		SELECT ?, email, 0, ?
		FROM subscriptions
		WHERE status = ?`,
		issueID, time.Now().UTC(), domain.StatusConfirmed,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// GetIssue fetches a single issue by ID, or ErrNotFound if missing.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	if err := db.WithContext(ctx).Where("id = ?", id).First(&issue).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

// CountIssues returns the total number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&total).Error
	return total, err
}

// ListIssuesPage returns a paginated slice of issues ordered by publication
// time descending (most recent first). The caller computes offset and limit.
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var out []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
