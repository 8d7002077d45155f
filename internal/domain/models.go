// Package domain defines the persistence models for subscribers, newsletter
// issues, the delivery queue, and admin users. These types are mapped with
// GORM and form the core data layer of the newsletter application.
package domain

import "time"

// Subscriber statuses. A delivery snapshot only ever includes subscribers
// whose status is StatusConfirmed at publish time.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// Subscriber represents one mailing-list entry. Email is the natural identity
// used by the delivery queue; the UUID primary key exists for administrative
// tooling and stable references.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique address the subscriber signed up with.
//   - Name: display name, normalized at the service layer.
//   - Status: pending_confirmation or confirmed (enforced by DB constraint).
//   - SubscribedAt: UTC timestamp of signup.
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscriptions" }

// NewsletterIssue is a published issue. Issues are written exactly once by the
// publish command and never mutated afterwards; the delivery queue references
// them by ID.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Title: issue subject line (also the email subject).
//   - TextContent / HTMLContent: the two bodies sent to subscribers.
//   - PublishedAt: UTC timestamp set when the publish command committed.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"type:text;not null"`
	PublishedAt time.Time `json:"published_at"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one unit of deferred work: send issue X to recipient Y.
// Rows are inserted in bulk inside the publish transaction (one per confirmed
// subscriber at that instant) and consumed exclusively by the delivery worker,
// which deletes them on success or defers them with a retry budget.
//
// The composite primary key doubles as the dedup guarantee: an issue holds at
// most one task per recipient.
type DeliveryTask struct {
	NewsletterIssueID string    `json:"newsletter_issue_id" gorm:"type:char(36);primaryKey"`
	SubscriberEmail   string    `json:"subscriber_email"    gorm:"type:varchar(320);primaryKey"`
	NRetries          int       `json:"n_retries"           gorm:"not null;default:0"`
	ExecuteAfter      time.Time `json:"execute_after"       gorm:"not null;index"`

	// Issue is the parent newsletter issue. Tasks are cascade-deleted if the
	// issue is ever removed administratively.
	Issue NewsletterIssue `json:"-" gorm:"foreignKey:NewsletterIssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }

// User is an operator account allowed to publish newsletter issues.
// Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string    `json:"id"       gorm:"type:char(36);primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash string    `json:"-"        gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
