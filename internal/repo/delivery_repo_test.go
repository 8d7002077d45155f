package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

func seedTask(t *testing.T, db *gorm.DB, issueID, email string, executeAfter time.Time) {
	t.Helper()
	task := domain.DeliveryTask{
		NewsletterIssueID: issueID,
		SubscriberEmail:   email,
		ExecuteAfter:      executeAfter,
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task %s/%s: %v", issueID, email, err)
	}
}

func newDeliveryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newRepoDB(t, &domain.NewsletterIssue{}, &domain.DeliveryTask{})
	issue := domain.NewsletterIssue{ID: "issue-1", Title: "t", PublishedAt: time.Now().UTC()}
	if err := db.Create(&issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	return db
}

func TestClaimNextTask_OldestDueFirst(t *testing.T) {
	db := newDeliveryDB(t)
	now := time.Now().UTC()

	seedTask(t, db, "issue-1", "late@example.com", now.Add(-time.Minute))
	seedTask(t, db, "issue-1", "early@example.com", now.Add(-time.Hour))
	seedTask(t, db, "issue-1", "future@example.com", now.Add(time.Hour))

	task, err := ClaimNextTask(db, now)
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if task.SubscriberEmail != "early@example.com" {
		t.Fatalf("claimed %q, want the oldest due task", task.SubscriberEmail)
	}
}

func TestClaimNextTask_NothingDue(t *testing.T) {
	db := newDeliveryDB(t)
	now := time.Now().UTC()

	seedTask(t, db, "issue-1", "future@example.com", now.Add(time.Hour))

	if _, err := ClaimNextTask(db, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestClaimNextTask_ClaimIsDurableWrite(t *testing.T) {
	// Once a claim commits without being settled (worker crashed after the
	// claim write, or a second process races in), the task must not be
	// claimable again until the lease expires.
	db := newDeliveryDB(t)
	now := time.Now().UTC()
	seedTask(t, db, "issue-1", "a@example.com", now.Add(-time.Minute))

	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	task, err := ClaimNextTask(tx, now)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if task.SubscriberEmail != "a@example.com" {
		t.Fatalf("claimed %q", task.SubscriberEmail)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := ClaimNextTask(db, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second claim = %v, want ErrNotFound while the lease holds", err)
	}

	// The task is still in the queue, just leased into the future.
	depth, err := QueueDepth(context.Background(), db)
	if err != nil || depth != 1 {
		t.Fatalf("QueueDepth = (%d, %v), want (1, nil)", depth, err)
	}
}

func TestDeleteTask_RemovesRow(t *testing.T) {
	db := newDeliveryDB(t)
	now := time.Now().UTC()
	seedTask(t, db, "issue-1", "a@example.com", now)

	if err := DeleteTask(db, "issue-1", "a@example.com"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	depth, err := QueueDepth(context.Background(), db)
	if err != nil || depth != 0 {
		t.Fatalf("QueueDepth = (%d, %v), want (0, nil)", depth, err)
	}
}

func TestDeferTask_BumpsRetryAndSchedule(t *testing.T) {
	db := newDeliveryDB(t)
	now := time.Now().UTC()
	seedTask(t, db, "issue-1", "a@example.com", now.Add(-time.Minute))

	next := now.Add(20 * time.Second)
	if err := DeferTask(db, "issue-1", "a@example.com", 2, next); err != nil {
		t.Fatalf("DeferTask: %v", err)
	}

	var task domain.DeliveryTask
	if err := db.First(&task, "subscriber_email = ?", "a@example.com").Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	if task.NRetries != 2 {
		t.Fatalf("NRetries = %d, want 2", task.NRetries)
	}
	if !task.ExecuteAfter.After(now) {
		t.Fatalf("ExecuteAfter = %v, want after %v", task.ExecuteAfter, now)
	}

	// The deferred task is no longer claimable right now.
	if _, err := ClaimNextTask(db, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after defer", err)
	}
}

func TestDeferTask_MissingRow(t *testing.T) {
	db := newDeliveryDB(t)
	err := DeferTask(db, "issue-1", "ghost@example.com", 1, time.Now())
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("got %v, want ErrRecordNotFound", err)
	}
}

func TestCountTasksForIssue(t *testing.T) {
	db := newDeliveryDB(t)
	now := time.Now().UTC()
	seedTask(t, db, "issue-1", "a@example.com", now)
	seedTask(t, db, "issue-1", "b@example.com", now)

	n, err := CountTasksForIssue(context.Background(), db, "issue-1")
	if err != nil || n != 2 {
		t.Fatalf("CountTasksForIssue = (%d, %v), want (2, nil)", n, err)
	}
}
