// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for the publish endpoint. Clients
// submit an idempotency key alongside the newsletter form; the middleware
// validates it, stashes the parsed key in the request context, and optionally
// performs a lookup to detect requests whose stored response already exists so
// downstream components can:
//   - read the validated key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// HeaderIdempotencyKey is the request header fallback that clients may use to
// convey an idempotency key when the form field is impractical (API clients
// rather than the HTML admin form).
const HeaderIdempotencyKey = "Idempotency-Key"

// FormIdempotencyKey is the canonical form field carrying the key. The admin
// publish form embeds it as a hidden input so browser retries reuse it.
const FormIdempotencyKey = "idempotency_key"

// Context keys used internally to stash idempotency state.
// These keys are intentionally unexported and referenced via accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored response exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
//
// Handlers should prefer this function over re-reading the form or header.
func GetIdempotencyKey(c *gin.Context) (domain.IdempotencyKey, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return domain.IdempotencyKey{}, false
	}
	k, ok := v.(domain.IdempotencyKey)
	return k, ok && k.String() != ""
}

// IsReplay reports whether the middleware detected that this request would
// replay a previously completed operation for (user, key).
//
// When true, upstream components (e.g., the rate limiter) may choose to
// short-circuit; the handler still serves the stored response through the
// service so the replay path stays transactional.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyLookup answers whether a completed stored response exists for
// (userID, key). Implementations typically consult the idempotency table.
//
// Return exists=true when the prior response can be replayed; return an error
// only for lookup failures (which must not block normal processing).
type IdempotencyLookup func(ctx context.Context, userID, key string) (exists bool, err error)

// IdempotencyValidator extracts the idempotency key from the form field (with
// the header as fallback), validates it, and stashes the parsed key in the
// request context. When the optional lookup reports a completed prior
// execution, it marks the context so downstream components can:
//   - detect replay via IsReplay
//   - bypass rate limiting (internal flag checked by the RL middleware)
//
// Behavior:
//   - If no key is supplied: the middleware is a no-op (the handler decides
//     whether a key is mandatory for the route).
//   - If the key fails validation: responds 400 with a compact error body.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
//
// The lookup identity comes from the session only (context value set by an
// earlier middleware, or the session cookie verified against sessionSecret).
// Requests without a valid session never earn the replay flags, so an
// unauthenticated caller cannot probe another subject's keys for a bypass.
//
// Reading the form here is safe: Gin caches the parsed form, so handler-level
// binding still sees the full payload.
func IdempotencyValidator(sessionSecret []byte, lookup IdempotencyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.PostForm(FormIdempotencyKey)
		if raw == "" {
			raw = c.GetHeader(HeaderIdempotencyKey)
		}
		if raw == "" {
			c.Next()
			return
		}

		key, err := domain.ParseIdempotencyKey(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid idempotency key",
			})
			return
		}

		// Stash the validated key for downstream use.
		c.Set(ctxKeyIdemKey, key)

		// If a stored response already exists, mark replay + rate bypass.
		if lookup != nil {
			if uid := sessionSubject(c, sessionSecret); uid != "" {
				if exists, _ := lookup(c.Request.Context(), uid, key.String()); exists {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true) // let RL middleware skip limiting
				}
			}
		}

		c.Next()
	}
}

// sessionSubject resolves the subject for the replay lookup: the context user
// id when a session middleware already ran, otherwise the verified subject of
// the session cookie. Unverified client input (headers, form fields) is never
// trusted here. Empty means no session, and the lookup is skipped.
func sessionSubject(c *gin.Context, secret []byte) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if len(secret) == 0 {
		return ""
	}
	token, err := c.Cookie(SessionCookieName)
	if err != nil || token == "" {
		return ""
	}
	uid, err := ParseSessionToken(secret, token)
	if err != nil {
		return ""
	}
	return uid
}
