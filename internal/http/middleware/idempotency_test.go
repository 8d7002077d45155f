package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func idemEngine(lookup IdempotencyLookup, capture *gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(IdempotencyValidator(nil, lookup))
	r.POST("/publish", func(c *gin.Context) {
		if capture != nil && *capture != nil {
			(*capture)(c)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func postIdem(r http.Handler, form url.Values, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if header != "" {
		req.Header.Set(HeaderIdempotencyKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_StashesFormKey(t *testing.T) {
	var gotKey string
	var present bool
	capture := gin.HandlerFunc(func(c *gin.Context) {
		k, ok := GetIdempotencyKey(c)
		gotKey, present = k.String(), ok
	})
	r := idemEngine(nil, &capture)

	w := postIdem(r, url.Values{FormIdempotencyKey: {"abc123"}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !present || gotKey != "abc123" {
		t.Fatalf("stashed key = (%q, %v), want (abc123, true)", gotKey, present)
	}
}

func TestIdempotencyValidator_HeaderFallback(t *testing.T) {
	var gotKey string
	capture := gin.HandlerFunc(func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		gotKey = k.String()
	})
	r := idemEngine(nil, &capture)

	w := postIdem(r, url.Values{}, "hdr-key")
	if w.Code != http.StatusOK || gotKey != "hdr-key" {
		t.Fatalf("header fallback = (%d, %q)", w.Code, gotKey)
	}
}

func TestIdempotencyValidator_NoKeyIsNoop(t *testing.T) {
	var present bool
	capture := gin.HandlerFunc(func(c *gin.Context) {
		_, present = GetIdempotencyKey(c)
	})
	r := idemEngine(nil, &capture)

	w := postIdem(r, url.Values{}, "")
	if w.Code != http.StatusOK || present {
		t.Fatalf("no key = (%d, present=%v), want (200, false)", w.Code, present)
	}
}

func TestIdempotencyValidator_RejectsInvalidKey(t *testing.T) {
	r := idemEngine(nil, nil)

	for _, key := range []string{"bad key", strings.Repeat("k", 51), "nl\nnl"} {
		w := postIdem(r, url.Values{FormIdempotencyKey: {key}}, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status = %d, want 400", key, w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: body = %s", key, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_MarksReplayAndRateBypass(t *testing.T) {
	lookup := func(_ context.Context, userID, key string) (bool, error) {
		return userID == "u1" && key == "abc123", nil
	}
	var replay, bypass bool
	capture := gin.HandlerFunc(func(c *gin.Context) {
		replay = IsReplay(c)
		bypass = IsRateBypass(c)
	})
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u1") })
	r.Use(IdempotencyValidator(nil, lookup))
	r.POST("/publish", func(c *gin.Context) { capture(c); c.Status(http.StatusOK) })

	w := postIdem(r, url.Values{FormIdempotencyKey: {"abc123"}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !replay || !bypass {
		t.Fatalf("replay=%v bypass=%v, want both true", replay, bypass)
	}
}

func TestIdempotencyValidator_SessionCookieIdentity(t *testing.T) {
	secret := []byte("idem-test-secret")
	lookup := func(_ context.Context, userID, key string) (bool, error) {
		return userID == "u1" && key == "abc123", nil
	}
	var replay, bypass bool
	r := gin.New()
	r.Use(IdempotencyValidator(secret, lookup))
	r.POST("/publish", func(c *gin.Context) {
		replay, bypass = IsReplay(c), IsRateBypass(c)
		c.Status(http.StatusOK)
	})

	token, err := IssueSessionToken(secret, "u1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/publish",
		strings.NewReader(url.Values{FormIdempotencyKey: {"abc123"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !replay || !bypass {
		t.Fatalf("session-backed lookup = (%d, replay=%v, bypass=%v), want (200, true, true)", w.Code, replay, bypass)
	}
}

func TestIdempotencyValidator_HeaderIdentityNotTrusted(t *testing.T) {
	// A caller without a session must not earn the replay or rate-bypass
	// flags by naming someone else's subject in a header.
	lookup := func(_ context.Context, _, _ string) (bool, error) {
		return true, nil // would mark every request if ever consulted
	}
	var replay, bypass bool
	r := gin.New()
	r.Use(IdempotencyValidator([]byte("idem-test-secret"), lookup))
	r.POST("/publish", func(c *gin.Context) {
		replay, bypass = IsReplay(c), IsRateBypass(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/publish",
		strings.NewReader(url.Values{FormIdempotencyKey: {"abc123"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if replay || bypass {
		t.Fatalf("replay=%v bypass=%v, want both false without a session", replay, bypass)
	}
}

func TestIdempotencyValidator_FreshKeyNotReplay(t *testing.T) {
	lookup := func(_ context.Context, _, _ string) (bool, error) { return false, nil }
	var replay bool
	capture := gin.HandlerFunc(func(c *gin.Context) { replay = IsReplay(c) })
	r := idemEngine(lookup, &capture)

	w := postIdem(r, url.Values{FormIdempotencyKey: {"fresh"}}, "")
	if w.Code != http.StatusOK || replay {
		t.Fatalf("fresh key = (%d, replay=%v)", w.Code, replay)
	}
}
