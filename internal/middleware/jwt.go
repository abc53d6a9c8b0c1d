package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/utils"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// Context keys set by JWTAuth for downstream handlers.
const (
	CtxUserID    = "user_id"
	CtxEmail     = "email"
	CtxRoleID    = "role_id"
	CtxAccountID = "account_id"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// against the access secret and injects the caller's identity into the
// request context. Protected handlers read it back via CurrentIdentity.
func JWTAuth(accessSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return apperr.Unauthorized("Missing bearer token")
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			id, err := utils.VerifyAccessToken(accessSecret, raw)
			if err != nil {
				return apperr.Unauthorized("Invalid token")
			}

			c.Set(CtxUserID, id.UserID)
			c.Set(CtxEmail, id.Email)
			c.Set(CtxRoleID, id.RoleID)
			c.Set(CtxAccountID, id.AccountID)
			return next(c)
		}
	}
}

// CurrentIdentity reassembles the identity stored by JWTAuth. The boolean is
// false when the middleware did not run (unauthenticated route).
func CurrentIdentity(c echo.Context) (utils.Identity, bool) {
	uid, ok := c.Get(CtxUserID).(uint64)
	if !ok || uid == 0 {
		return utils.Identity{}, false
	}
	id := utils.Identity{UserID: uid}
	if v, ok := c.Get(CtxEmail).(string); ok {
		id.Email = v
	}
	if v, ok := c.Get(CtxRoleID).(uint64); ok {
		id.RoleID = v
	}
	if v, ok := c.Get(CtxAccountID).(uint64); ok {
		id.AccountID = v
	}
	return id, true
}
