// Newsletter HTTP handlers.
//
// This file exposes the admin endpoints for newsletter issues:
//   - POST /admin/newsletter          (publish, idempotent)
//   - GET  /admin/newsletter/issues   (list, paginated, ETag support)
//
// Publishing serves whatever response the service hands back: on the first
// execution that is the freshly persisted acknowledgment, on retries it is the
// stored response replayed byte-for-byte. Status, headers, and body are
// identical across retries; replays are only distinguishable in the access
// log and the trace span, never on the wire.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

//
// DTOs
//

// PublishRequest is the form payload for publishing a newsletter issue.
// The idempotency key travels in the same form (hidden input in the admin
// page) so browser retries resubmit it unchanged.
type PublishRequest struct {
	Title          string `form:"title" binding:"required" example:"Issue #42"`
	TextContent    string `form:"text_content" example:"Plain-text body"`
	HTMLContent    string `form:"html_content" example:"<p>HTML body</p>"`
	IdempotencyKey string `form:"idempotency_key" example:"b9a3f7e0-0b1c-4c8e-9d2a-1f2e3d4c5b6a"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListIssuesResponse wraps a page of issues and pagination information.
type ListIssuesResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// writeStored serializes a stored response onto the wire exactly as persisted:
// same status, same headers in the same order, same body bytes.
func writeStored(c *gin.Context, resp *domain.StoredResponse) {
	contentType := ""
	for _, h := range resp.Headers {
		if http.CanonicalHeaderKey(h.Name) == "Content-Type" {
			contentType = h.Value
			continue
		}
		c.Writer.Header().Set(h.Name, h.Value)
	}
	c.Data(resp.Status, contentType, resp.Body)
}

//
// Handlers
//

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Records the issue, enqueues delivery to every confirmed subscriber, and redirects. Retries with the same idempotency key replay the original response without re-executing.
// @Tags        Newsletter
// @Accept      x-www-form-urlencoded
// @Produce     plain
//
// @Param       title            formData  string  true   "Issue title (email subject)"
// @Param       text_content     formData  string  false  "Plain-text body"
// @Param       html_content     formData  string  false  "HTML body"
// @Param       idempotency_key  formData  string  true   "Retry-stable key (1-50 chars)"
//
// @Success     303  {string}  string "See Other"
// @Header      303  {string}  Location  "Redirect target"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse "Timed out waiting for a concurrent execution"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/newsletter [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title is required")
		return
	}

	key, present := middleware.GetIdempotencyKey(c)
	if !present {
		// Middleware not mounted or key absent: parse straight from the form.
		parsed, err := domain.ParseIdempotencyKey(req.IdempotencyKey)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadIdempotencyKey, "idempotency key required (1-50 chars)")
			return
		}
		key = parsed
	}

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	resp, replayed, err := h.pubSvc.Publish(c.Request.Context(), uid, key, services.PublishCommand{
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
	})
	switch {
	case errors.Is(err, services.ErrEmptyTitle):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title must not be blank")
		return
	case errors.Is(err, services.ErrReplayTimeout):
		fail(c, http.StatusServiceUnavailable, ErrCodePublishTimeout, "publish in progress, retry shortly")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodePublishFailed, err.Error())
		return
	}

	// Replays must be indistinguishable on the wire, so the marker goes to
	// the log and the span only.
	if replayed {
		middleware.LoggerFrom(c).Info().
			Str("idempotency_key", key.String()).
			Msg("publish replayed from stored response")
	}
	writeStored(c, resp)
}

// ListIssues godoc
// @ID          listIssues
// @Summary     List published issues (paginated)
// @Description Returns a page of newsletter issues, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Newsletter
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"issues:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListIssuesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/newsletter/issues [get]
func (h *Handlers) ListIssues(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okCast := h.pubSvc.(*services.PublishService); okCast {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.IssuesStats(ctx, db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"issues:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.pubSvc.ListIssuesPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListIssuesResponse{
		Issues: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
