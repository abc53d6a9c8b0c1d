package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/chat"
	"github.com/buildhub/buildhub/internal/handler"
	"github.com/buildhub/buildhub/internal/middleware"
)

// AdminRoleIDs is the allow-list for privileged auth sub-flows such as
// activating a user. Attribute-based: a role is either listed or the request
// is forbidden.
var AdminRoleIDs = []uint64{1, 2}

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes. The credential endpoints
// (register, login, refresh) are public but rate limited; session endpoints
// require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc, accessSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)

	auth := g.Group("", middleware.JWTAuth(accessSecret))
	auth.POST("/logout", a.Logout)
	auth.POST("/logout-all", a.LogoutAll)
	auth.GET("/me", a.Me)
	auth.POST("/users/:id/activate", a.Activate, middleware.RequireRole(AdminRoleIDs...))
}

// RegisterChat registers the realtime gateway endpoint and the chat HTTP
// queries. The websocket handshake authenticates itself (the token may
// arrive as a query parameter), so only the HTTP queries take the JWT
// middleware.
func RegisterChat(e *echo.Echo, g *chat.Gateway, h *handler.ChatHandler, accessSecret string) {
	e.GET("/v1/chat/ws", g.HandleWS)

	c := e.Group("/v1/chat", middleware.JWTAuth(accessSecret))
	c.GET("/channels/unread", h.UnreadSummary)
	c.GET("/online", h.Online)
}
