// Handler wiring.
//
// This file declares the service contracts consumed by the HTTP layer and the
// Handlers aggregate that binds them. Handlers are transport-thin: they
// validate input, call application services, and translate results into HTTP
// responses. Keeping the contracts as interfaces here lets tests substitute
// fakes without touching the service packages.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// PublishService executes publish commands and serves the issue listing.
//
// Implementations must be safe for concurrent use and must honor the provided
// context for cancellation and timeouts.
type PublishService interface {
	// Publish runs one publish command for userID identified by key. The bool
	// result reports whether the response was replayed from a prior execution.
	Publish(ctx context.Context, userID string, key domain.IdempotencyKey, cmd services.PublishCommand) (*domain.StoredResponse, bool, error)
	// ListIssuesPage returns a page of published issues and the total count.
	ListIssuesPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
}

// SubscriptionService records mailing-list signups.
type SubscriptionService interface {
	// Subscribe validates and persists a signup in pending state.
	Subscribe(ctx context.Context, name, email string) (*domain.Subscriber, error)
}

// AuthService validates operator credentials for the admin surface.
type AuthService interface {
	// ValidateCredentials returns the operator's user ID on success.
	ValidateCredentials(ctx context.Context, username, password string) (string, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for publishing, subscriptions, and
// operator sessions.
type Handlers struct {
	pubSvc  PublishService
	subSvc  SubscriptionService
	authSvc AuthService

	// sessionSecret signs the session cookie issued at login.
	sessionSecret []byte
	// sessionTTL bounds the session cookie lifetime.
	sessionTTL time.Duration
}

// New constructs a Handlers instance bound to the given services and session
// settings.
func New(pubSvc PublishService, subSvc SubscriptionService, authSvc AuthService, sessionSecret []byte, sessionTTL time.Duration) *Handlers {
	return &Handlers{
		pubSvc:        pubSvc,
		subSvc:        subSvc,
		authSvc:       authSvc,
		sessionSecret: sessionSecret,
		sessionTTL:    sessionTTL,
	}
}

// userID extracts the authenticated operator id from the Gin context (set by
// the session middleware). If absent, it falls back to the "X-User-ID" header
// used by non-browser API clients. Empty means unauthenticated.
func userID(c *gin.Context) string {
	if uid, ok := middleware.UserID(c); ok {
		return uid
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}
