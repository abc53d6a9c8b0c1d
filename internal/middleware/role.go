package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/pkg/apperr"
)

// RequireRole returns a middleware that enforces that the authenticated
// caller's role id is in the given allow-list. The check is attribute-based,
// not hierarchical: a role is either listed or the request fails with 403.
// It assumes JWTAuth already stored the role id in the context.
func RequireRole(roleIDs ...uint64) echo.MiddlewareFunc {
	allowed := make(map[uint64]bool, len(roleIDs))
	for _, r := range roleIDs {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxRoleID).(uint64)
			if !ok || !allowed[role] {
				return apperr.Forbidden("Insufficient role")
			}
			return next(c)
		}
	}
}
