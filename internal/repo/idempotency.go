// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the idempotency store: the persisted
// (user_id, idempotency_key) saga rows that deduplicate retries of the
// newsletter publish command and serialize concurrent attempts.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrDuplicate indicates that a saga row already exists for the given
// (user_id, idempotency_key) pair — some execution already claimed the key.
var ErrDuplicate = errors.New("duplicate")

// CreateSagaPlaceholder inserts the placeholder row for (userID, key) with
// all response columns NULL. The insert must run inside the caller's open
// transaction: succeeding makes that transaction the exclusive owner of the
// key, and any concurrent attempt blocks on the primary key until the owner
// commits or rolls back.
//
// Returns ErrDuplicate when the row already exists (i.e. an earlier execution
// committed, or a concurrent one just did).
func CreateSagaPlaceholder(tx *gorm.DB, userID, key string) error {
	saga := &domain.IdempotencySaga{
		UserID:         userID,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.Create(saga).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSagaForUpdate fetches the saga row for (userID, key) under a blocking
// row lock. A caller that lost the claim race uses this to wait for the
// winner's definitive outcome: the read blocks while the winning transaction
// is still open and observes either the completed row or, after a rollback,
// no row at all. On PostgreSQL the lock is SELECT ... FOR UPDATE; SQLite has
// no row locks, but its single-writer model plus busy_timeout yields the same
// wait-for-the-owner behavior.
//
// Runs in its own short transaction so the lock is released immediately.
func GetSagaForUpdate(ctx context.Context, db *gorm.DB, userID, key string) (*domain.IdempotencySaga, error) {
	var saga domain.IdempotencySaga
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ? AND idempotency_key = ?", userID, key)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		return q.First(&saga).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &saga, nil
}

// HasCompletedSaga reports whether a completed saga row exists for
// (userID, key). It reads without a lock, so a false result may race with a
// concurrent completion; callers use it only as a best-effort replay hint
// (e.g. to bypass rate limiting), never for correctness.
func HasCompletedSaga(ctx context.Context, db *gorm.DB, userID, key string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.IdempotencySaga{}).
		Where("user_id = ? AND idempotency_key = ? AND response_status IS NOT NULL", userID, key).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteSaga records the response for (userID, key) on the placeholder row.
// It must run inside the same transaction that created the placeholder and
// performed the domain write; committing that transaction is what makes the
// issue, its delivery tasks, and this response visible atomically.
func CompleteSaga(tx *gorm.DB, userID, key string, resp *domain.StoredResponse) error {
	headers, err := domain.EncodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	res := tx.Model(&domain.IdempotencySaga{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Updates(map[string]any{
			"response_status":  resp.Status,
			"response_headers": headers,
			"response_body":    resp.Body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a unique/primary key violation.
// glebarez/sqlite often surfaces these as plain-text errors, and the postgres
// driver translates them to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
