package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakePublishService scripts Publish results for transport-level tests.
type fakePublishService struct {
	resp     *domain.StoredResponse
	replayed bool
	err      error

	gotUser string
	gotKey  string
	gotCmd  services.PublishCommand
}

func (f *fakePublishService) Publish(_ context.Context, userID string, key domain.IdempotencyKey, cmd services.PublishCommand) (*domain.StoredResponse, bool, error) {
	f.gotUser, f.gotKey, f.gotCmd = userID, key.String(), cmd
	return f.resp, f.replayed, f.err
}

func (f *fakePublishService) ListIssuesPage(context.Context, int, int) ([]domain.NewsletterIssue, int64, error) {
	return nil, 0, nil
}

func storedOK() *domain.StoredResponse {
	return &domain.StoredResponse{
		Status: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: "/admin/newsletter"},
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "X-Issue-ID", Value: "issue-1"},
		},
		Body: []byte("accepted\n"),
	}
}

func publishEngine(svc PublishService) *gin.Engine {
	h := New(svc, nil, nil, []byte("s"), time.Hour)
	r := gin.New()
	r.POST("/admin/newsletter", h.PublishNewsletter)
	return r
}

func doPublish(r http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validForm() url.Values {
	return url.Values{
		"title":           {"Issue #1"},
		"text_content":    {"t"},
		"html_content":    {"<p>h</p>"},
		"idempotency_key": {"abc123"},
	}
}

func TestPublishNewsletter_ServesStoredResponse(t *testing.T) {
	fake := &fakePublishService{resp: storedOK()}
	r := publishEngine(fake)

	w := doPublish(r, validForm())
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Location") != "/admin/newsletter" {
		t.Fatalf("Location = %q", w.Header().Get("Location"))
	}
	if w.Header().Get("X-Issue-ID") != "issue-1" {
		t.Fatalf("X-Issue-ID = %q", w.Header().Get("X-Issue-ID"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if w.Body.String() != "accepted\n" {
		t.Fatalf("body = %q", w.Body.String())
	}

	if fake.gotUser != "u1" || fake.gotKey != "abc123" || fake.gotCmd.Title != "Issue #1" {
		t.Fatalf("service received (%q, %q, %+v)", fake.gotUser, fake.gotKey, fake.gotCmd)
	}
}

func TestPublishNewsletter_ReplayIndistinguishableOnWire(t *testing.T) {
	// A replayed response must carry exactly the same status, headers, and
	// body as the original execution.
	fresh := doPublish(publishEngine(&fakePublishService{resp: storedOK()}), validForm())
	replay := doPublish(publishEngine(&fakePublishService{resp: storedOK(), replayed: true}), validForm())

	if fresh.Code != replay.Code {
		t.Fatalf("status differs: fresh=%d replay=%d", fresh.Code, replay.Code)
	}
	if !reflect.DeepEqual(fresh.Header(), replay.Header()) {
		t.Fatalf("header sets differ:\nfresh:  %v\nreplay: %v", fresh.Header(), replay.Header())
	}
	if fresh.Body.String() != replay.Body.String() {
		t.Fatalf("bodies differ: fresh=%q replay=%q", fresh.Body.String(), replay.Body.String())
	}
}

func TestPublishNewsletter_MissingTitle(t *testing.T) {
	r := publishEngine(&fakePublishService{resp: storedOK()})
	form := validForm()
	form.Del("title")

	w := doPublish(r, form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPublishNewsletter_MissingKey(t *testing.T) {
	r := publishEngine(&fakePublishService{resp: storedOK()})
	form := validForm()
	form.Del("idempotency_key")

	w := doPublish(r, form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), ErrCodeBadIdempotencyKey) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestPublishNewsletter_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrEmptyTitle, http.StatusBadRequest},
		{services.ErrReplayTimeout, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := publishEngine(&fakePublishService{err: tc.err})
		w := doPublish(r, validForm())
		if w.Code != tc.want {
			t.Fatalf("err %v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestPublishNewsletter_Unauthenticated(t *testing.T) {
	r := publishEngine(&fakePublishService{resp: storedOK()})

	req := httptest.NewRequest(http.MethodPost, "/admin/newsletter", strings.NewReader(validForm().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// No session context and no X-User-ID header.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestClampPagination(t *testing.T) {
	r := gin.New()
	var page, size int
	r.GET("/x", func(c *gin.Context) {
		page, size = clampPagination(c)
		c.Status(http.StatusOK)
	})

	for _, tc := range []struct {
		query    string
		wantPage int
		wantSize int
	}{
		{"", 1, 20},
		{"?page=0&page_size=0", 1, 1},
		{"?page=3&page_size=500", 3, 100},
		{"?page=abc&page_size=xyz", 1, 20},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil))
		if page != tc.wantPage || size != tc.wantSize {
			t.Fatalf("query %q: got (%d, %d), want (%d, %d)", tc.query, page, size, tc.wantPage, tc.wantSize)
		}
	}
}
