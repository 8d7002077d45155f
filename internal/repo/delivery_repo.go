// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the delivery-queue consumer helpers used
// by the worker: claim one task under a lock, then delete or defer it within
// the same transaction.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// claimLease is how far execute_after is pushed when a claim has to be made
// durable as a write (non-postgres). A crashed worker's rollback restores the
// old value; a worker that stalls past the lease simply lets the task be
// retried.
const claimLease = time.Minute

// ClaimNextTask locks and returns one due delivery task inside the caller's
// transaction, or ErrNotFound when nothing is due. On PostgreSQL the claim
// uses FOR UPDATE SKIP LOCKED so concurrent workers never contend on the same
// row. Elsewhere the claim is a compare-and-set on execute_after: pushing it
// forward is a write, so two worker processes sharing one SQLite file cannot
// both claim the same task. The loser's update matches zero rows and reads as
// nothing due.
func ClaimNextTask(tx *gorm.DB, now time.Time) (*domain.DeliveryTask, error) {
	var task domain.DeliveryTask
	q := tx.Where("execute_after <= ?", now).
		Order("execute_after ASC").
		Limit(1)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return &task, nil
	}

	if err := q.First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	res := tx.Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ? AND execute_after = ?",
			task.NewsletterIssueID, task.SubscriberEmail, task.ExecuteAfter).
		Update("execute_after", now.Add(claimLease))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &task, nil
}

// DeleteTask removes a task from the queue (delivery succeeded, or the retry
// budget is exhausted and the task is abandoned).
func DeleteTask(tx *gorm.DB, issueID, email string) error {
	return tx.
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Delete(&domain.DeliveryTask{}).Error
}

// DeferTask re-schedules a failed task: bumps its retry counter and pushes
// execute_after into the future so the next claim skips it until then.
func DeferTask(tx *gorm.DB, issueID, email string, nRetries int, executeAfter time.Time) error {
	res := tx.Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Updates(map[string]any{
			"n_retries":     nRetries,
			"execute_after": executeAfter,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// QueueDepth returns the number of tasks currently waiting in the queue.
// Exported as a gauge by the worker.
func QueueDepth(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&total).Error
	return total, err
}

// CountTasksForIssue returns the number of pending tasks for one issue.
func CountTasksForIssue(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ?", issueID).
		Count(&total).Error
	return total, err
}
