// Session authentication middleware.
//
// The admin surface is browser-oriented: a successful login sets a signed
// session cookie and failures redirect back to the login form with 303 See
// Other rather than returning JSON errors. The cookie payload is a compact
// HS256 JWT whose subject is the operator's user ID.
package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "session"

// ctxKeyUserID is where RequireSession stashes the authenticated operator id.
const ctxKeyUserID = "userID"

// ErrInvalidSession is returned by ParseSessionToken for any token that fails
// signature, expiry, or claim checks.
var ErrInvalidSession = errors.New("invalid session token")

// IssueSessionToken signs a session JWT for userID, valid for ttl.
func IssueSessionToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseSessionToken verifies a session JWT and returns its subject (user ID).
func ParseSessionToken(secret []byte, token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}

// UserID returns the authenticated operator id stored by RequireSession.
// The second return value indicates presence.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// RequireSession guards admin routes. Requests without a valid session cookie
// are redirected to the login form; valid sessions have the operator id
// stashed in the context for handlers and the idempotency middleware.
func RequireSession(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		uid, err := ParseSessionToken(secret, token)
		if err != nil {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}
