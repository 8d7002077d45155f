// Admin HTML pages.
//
// The admin surface is a pair of minimal server-rendered forms: the login page
// and the publish page. The publish form embeds a freshly generated
// idempotency key as a hidden input, so a browser resubmitting the form (back
// button, refresh after timeout, double click) replays the original publish
// instead of sending the newsletter twice.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const loginPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Login</title></head>
<body>
<form action="/login" method="post">
  <label>Username <input type="text" name="username" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Login</button>
</form>
</body>
</html>
`

const publishPageFmt = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Publish newsletter issue</title></head>
<body>
<form action="/admin/newsletter" method="post">
  <label>Title <input type="text" name="title" required></label>
  <label>Plain text <textarea name="text_content"></textarea></label>
  <label>HTML <textarea name="html_content"></textarea></label>
  <input hidden type="text" name="idempotency_key" value="%s">
  <button type="submit">Publish</button>
</form>
<p><a href="/admin/newsletter/issues">Past issues</a></p>
<form action="/admin/logout" method="post"><button type="submit">Logout</button></form>
</body>
</html>
`

// LoginForm serves the operator login page.
func (h *Handlers) LoginForm(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginPage))
}

// PublishForm serves the publish page with a fresh idempotency key baked in.
func (h *Handlers) PublishForm(c *gin.Context) {
	page := fmt.Sprintf(publishPageFmt, uuid.NewString())
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}
