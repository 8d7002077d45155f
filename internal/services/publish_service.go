// Package services – PublishService
//
// This file implements PublishService, the command processor behind
// POST /admin/newsletter. A publish command is identified by the caller's
// idempotency key and must execute its irrevocable effects at most once, no
// matter how often the request is retried.
//
// The mechanism is a transactional outbox coupled to an idempotency saga:
// one database transaction claims the (user, key) pair, records the issue,
// bulk-enqueues delivery tasks for every confirmed subscriber, persists the
// HTTP response that will be replayed to duplicates, and commits. A crash or
// error anywhere before the commit rolls the whole unit back, releasing the
// key for a safe retry. Losers of the claim race wait — under a blocking row
// lock, bounded by a timeout — for the winner's definitive outcome and then
// either replay its stored response or claim the key themselves.
//
// Observability: the public method is OpenTelemetry-instrumented; spans
// include the subject and whether the call was a replay.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// defaultSuccessLocation is where the browser is redirected after a
	// publish (first execution and replays alike).
	defaultSuccessLocation = "/admin/newsletter"

	defaultReplayWait = 10 * time.Second
	defaultReplayPoll = 100 * time.Millisecond
)

// PublishCommand carries the operator-supplied issue content.
type PublishCommand struct {
	Title       string
	TextContent string
	HTMLContent string
}

// PublishService executes publish commands with at-most-once semantics.
type PublishService struct {
	DB *gorm.DB

	// SuccessLocation overrides the redirect target of the success response.
	SuccessLocation string

	// ReplayWait bounds how long a duplicate command waits for a concurrent
	// execution of the same key to reach a definitive outcome.
	ReplayWait time.Duration
	// ReplayPoll is the interval between locked re-reads while waiting.
	ReplayPoll time.Duration
}

// Publish runs one publish command for userID identified by key.
//
// It returns the response to serve (status, ordered headers, body), a flag
// reporting whether that response was replayed from a previous execution, and
// an error. Replayed responses are byte-identical to the original. On any
// error the transaction has been rolled back in full: no issue, no delivery
// tasks, and no claim on the key survive, so retrying with the same key is
// always safe.
func (s *PublishService) Publish(ctx context.Context, userID string, key domain.IdempotencyKey, cmd PublishCommand) (*domain.StoredResponse, bool, error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if strings.TrimSpace(cmd.Title) == "" {
		return nil, false, ErrEmptyTitle
	}

	deadline := time.Now().Add(s.replayWait())

	// Claim-or-wait loop. Normally it runs once: either we win the claim and
	// execute, or the key is already completed and we replay. The loop only
	// repeats when a concurrent owner rolled back while we were waiting, which
	// releases the key for us to claim.
	for {
		resp, claimed, err := s.tryExecute(ctx, userID, key, cmd)
		if err != nil {
			return nil, false, err
		}
		if claimed {
			span.SetAttributes(attribute.Bool("publish.replayed", false))
			return resp, false, nil
		}

		resp, err = s.awaitStoredResponse(ctx, userID, key, deadline)
		if err == nil {
			span.SetAttributes(attribute.Bool("publish.replayed", true))
			return resp, true, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
		// Row vanished: the concurrent owner rolled back. Re-claim.
		if time.Now().After(deadline) {
			return nil, false, ErrReplayTimeout
		}
	}
}

// tryExecute attempts to claim the key and run the command. It returns
// claimed=false (and no error) when the key is already owned, in which case
// the caller falls through to the replay path.
func (s *PublishService) tryExecute(ctx context.Context, userID string, key domain.IdempotencyKey, cmd PublishCommand) (*domain.StoredResponse, bool, error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	// The rollback is a no-op once the transaction committed.
	defer tx.Rollback()

	if err := repo.CreateSagaPlaceholder(tx, userID, key.String()); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, false, nil
		}
		return nil, false, err
	}

	// Domain write + outbox enqueue, all on the claim transaction.
	issue, err := repo.CreateIssue(tx, cmd.Title, cmd.TextContent, cmd.HTMLContent)
	if err != nil {
		return nil, false, err
	}
	queued, err := repo.EnqueueDeliveries(tx, issue.ID)
	if err != nil {
		return nil, false, err
	}

	resp := s.successResponse(issue.ID)
	if err := repo.CompleteSaga(tx, userID, key.String(), resp); err != nil {
		return nil, false, err
	}

	// Last transactional operation: commit links "issue exists", "deliveries
	// are queued", and "this response is the canonical answer for the key".
	if err := tx.Commit().Error; err != nil {
		return nil, false, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("issue.id", issue.ID),
		attribute.Int64("delivery.enqueued", queued),
	)
	return resp, true, nil
}

// awaitStoredResponse waits for the owner of (userID, key) to commit, then
// materializes the stored response. Each probe takes a blocking row lock in a
// short transaction, so while the owner's transaction is open the read simply
// waits on the lock. It returns repo.ErrNotFound when the row disappeared
// (owner rolled back) and ErrReplayTimeout past the deadline.
func (s *PublishService) awaitStoredResponse(ctx context.Context, userID string, key domain.IdempotencyKey, deadline time.Time) (*domain.StoredResponse, error) {
	poll := s.replayPoll()
	for {
		saga, err := repo.GetSagaForUpdate(ctx, s.DB, userID, key.String())
		if err != nil {
			return nil, err
		}
		if saga.Completed() {
			resp, err := saga.Response()
			if err != nil {
				return nil, fmt.Errorf("decode stored response: %w", err)
			}
			return resp, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrReplayTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// ListIssuesPage returns a page of published issues (most recent first) and
// the total count, for the admin listing endpoint.
func (s *PublishService) ListIssuesPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	total, err := repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	items, err := repo.ListIssuesPage(ctx, s.DB, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// successResponse builds the acknowledgment persisted with the saga and
// served to the first caller and every replay. The headers are stored in
// order so replays are byte-identical.
func (s *PublishService) successResponse(issueID string) *domain.StoredResponse {
	loc := s.SuccessLocation
	if loc == "" {
		loc = defaultSuccessLocation
	}
	return &domain.StoredResponse{
		Status: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: loc},
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "X-Issue-ID", Value: issueID},
		},
		Body: []byte("The newsletter issue has been accepted - emails will go out shortly.\n"),
	}
}

func (s *PublishService) replayWait() time.Duration {
	if s.ReplayWait > 0 {
		return s.ReplayWait
	}
	return defaultReplayWait
}

func (s *PublishService) replayPoll() time.Duration {
	if s.ReplayPoll > 0 {
		return s.ReplayPoll
	}
	return defaultReplayPoll
}
