// Subscription HTTP handler.
//
// POST /subscriptions records a mailing-list signup from the public site.
// New subscribers start in pending_confirmation and only take part in
// deliveries once confirmed.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// SubscribeRequest is the form payload for a mailing-list signup.
type SubscribeRequest struct {
	Name  string `form:"name" example:"Jane Doe"`
	Email string `form:"email" binding:"required" example:"jane@example.com"`
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Subscribe to the newsletter
// @Description Registers an email address in pending_confirmation status.
// @Tags        Subscriptions
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       name   formData  string  false "Display name"
// @Param       email  formData  string  true  "Email address"
//
// @Success     201  {object}  domain.Subscriber
// @Failure     400  {object}  handlers.ErrorResponse "Invalid email"
// @Failure     409  {object}  handlers.ErrorResponse "Already subscribed"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /subscriptions [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email is required")
		return
	}

	sub, err := h.subSvc.Subscribe(c.Request.Context(), req.Name, req.Email)
	switch {
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid email address")
		return
	case errors.Is(err, services.ErrSubscriberExists):
		fail(c, http.StatusConflict, ErrCodeConflict, "email already subscribed")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, sub)
}
