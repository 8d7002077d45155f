// Operator session handlers.
//
// The admin surface is form-driven: POST /login validates credentials, sets
// the signed session cookie, and redirects with 303 See Other. Failed logins
// redirect back to the form rather than leaking which part of the credentials
// was wrong. POST /admin/logout clears the cookie.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// LoginRequest is the form payload for operator login.
type LoginRequest struct {
	Username string `form:"username" binding:"required" example:"admin"`
	Password string `form:"password" binding:"required"`
}

// Login godoc
// @ID          login
// @Summary     Operator login
// @Description Validates credentials and establishes a session cookie.
// @Tags        Auth
// @Accept      x-www-form-urlencoded
//
// @Param       username  formData  string  true  "Username"
// @Param       password  formData  string  true  "Password"
//
// @Success     303  {string}  string "Redirect to /admin/newsletter on success, /login on failure"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		seeOther(c, "/login")
		return
	}

	uid, err := h.authSvc.ValidateCredentials(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		seeOther(c, "/login")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	token, err := middleware.IssueSessionToken(h.sessionSecret, uid, h.sessionTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not establish session")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, token, int(h.sessionTTL.Seconds()), "/", "", false, true)
	seeOther(c, "/admin/newsletter")
}

// Logout godoc
// @ID          logout
// @Summary     Operator logout
// @Description Clears the session cookie and redirects to the login form.
// @Tags        Auth
//
// @Success     303  {string}  string "Redirect to /login"
// @Router      /admin/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	seeOther(c, "/login")
}
