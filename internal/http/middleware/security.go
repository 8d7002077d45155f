// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders for an app that serves both a JSON API
// (subscriptions, issue listing) and server-rendered HTML (login and publish
// forms). The forms carry operator credentials and issue content, so besides
// the usual baseline the middleware can emit a restrictive Content-Security-
// Policy that pins scripts, styles, and form targets to this origin.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// adminCSP locks the admin pages down to same-origin resources. The forms
// are plain HTML with no scripts, so 'self' is already generous.
const adminCSP = "default-src 'self'; form-action 'self'; frame-ancestors 'none'"

// SecurityOptions configures the headers emitted by SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security for HTTPS requests only; enable
// it when traffic is HTTPS end-to-end including the proxy hop. HSTSMaxAge
// defaults to 180 days when unset. NoStore adds Cache-Control: no-store for
// deployments where responses must never be cached. EnablePolicy adds the
// browser feature policy headers and the admin CSP; harmless for non-browser
// clients.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware adding the configured security
// headers to every response. X-Content-Type-Options, X-Frame-Options, and
// Referrer-Policy are always set; the rest follow SecurityOptions. When an
// X-Request-ID is already on the response it is appended to
// Access-Control-Expose-Headers so browser clients can correlate errors.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Content-Security-Policy", adminCSP)
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		// Never advertise HSTS on plain HTTP; browsers would ignore it and
		// local setups would be pinned by mistake.
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security",
				"max-age="+strconv.Itoa(maxAge)+"; includeSubDomains; preload")
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, "X-Request-ID")
			} else if !strings.Contains(cur, "X-Request-ID") {
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over HTTPS, either directly or
// via a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
