// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/handler"
	"github.com/iliyamo/echosecure-chat/internal/ws"
)

// Guards are the middleware chains shared by the route groups.
type Guards struct {
	// Session resolves the caller from the auth cookies.
	Session echo.MiddlewareFunc
	// CSRF checks X-CSRF-Token on state-changing requests. Runs after Session.
	CSRF echo.MiddlewareFunc
	// Limit is the general rate limiter; AuthLimit the stricter one for
	// credential endpoints.
	Limit     echo.MiddlewareFunc
	AuthLimit echo.MiddlewareFunc
}

// RegisterRoutes registers the unauthenticated health check.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterAuth mounts /api/auth. Signup, login, OTP verification and
// refresh work without a session; the rest need one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, g Guards) {
	open := e.Group("/api/auth", g.AuthLimit)
	open.POST("/signup", a.Signup)
	open.POST("/login", a.Login)
	open.POST("/verify-otp", a.VerifyOTP)
	open.POST("/refresh-token", a.RefreshToken)

	// logout is CSRF-checked so a cross-site form cannot end a session
	authed := e.Group("/api/auth", g.Session, g.CSRF, g.Limit)
	authed.POST("/logout", a.Logout)
	authed.GET("/check", a.Check)
	authed.GET("/disappear-settings", a.GetDisappear)
	authed.PUT("/disappear-settings", a.SetDisappear)
}

// RegisterMessages mounts /api/messages. Static segments (send, pinned,
// chat) take precedence over :peer and :id in Echo's router.
func RegisterMessages(e *echo.Echo, m *handler.MessageHandler, g Guards) {
	r := e.Group("/api/messages", g.Session, g.CSRF, g.Limit)
	r.GET("/:peer", m.ListDirect)
	r.POST("/send/:peer", m.SendDirect)
	r.GET("/pinned/:peer", m.PinnedDirect)
	r.DELETE("/chat/:peer", m.DeleteChat)

	r.PUT("/:id", m.Edit)
	r.DELETE("/:id", m.Delete)
	r.POST("/:id/react", m.React)
	r.DELETE("/:id/react", m.Unreact)
	r.GET("/:id/reactions/:emoji", m.ReactionUsers)
	r.POST("/:id/pin", m.Pin)
	r.DELETE("/:id/pin", m.Unpin)
	r.POST("/:id/read", m.MarkRead)
}

// RegisterGroups mounts /api/groups, including group message routes.
func RegisterGroups(e *echo.Echo, gh *handler.GroupHandler, m *handler.MessageHandler, g Guards) {
	r := e.Group("/api/groups", g.Session, g.CSRF, g.Limit)
	r.POST("", gh.Create)
	r.GET("", gh.List)
	r.GET("/:id", gh.Get)
	r.PUT("/:id", gh.Update)
	r.DELETE("/:id", gh.Delete)
	r.POST("/:id/members", gh.AddMembers)
	r.DELETE("/:id/members", gh.RemoveMembers)
	r.POST("/:id/leave", gh.Leave)
	r.POST("/:id/admins/:userId", gh.MakeAdmin)
	r.DELETE("/:id/admins/:userId", gh.RemoveAdmin)

	r.GET("/:id/messages", m.ListGroup)
	r.POST("/:id/messages", m.SendGroup)
	r.GET("/:id/pinned", m.PinnedGroup)
}

// RegisterWS mounts the websocket endpoint. The upgrade is a GET, so only
// the session guard applies.
func RegisterWS(e *echo.Echo, s *ws.Server, g Guards) {
	e.GET("/ws", s.Handle, g.Session)
}
