package middleware

import "github.com/labstack/echo/v4"

// Cookie and header names shared by the auth handlers and the session
// middleware.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
	SessionCookie = "sessionId"
	CSRFCookie    = "csrfToken"
	CSRFHeader    = "X-CSRF-Token"
)

const (
	userIDKey    = "user_id"
	sessionIDKey = "session_id"
)

// UserID returns the authenticated user id, or "" outside RequireSession.
func UserID(c echo.Context) string {
	s, _ := c.Get(userIDKey).(string)
	return s
}

// SessionID returns the session id of the authenticated request.
func SessionID(c echo.Context) string {
	s, _ := c.Get(sessionIDKey).(string)
	return s
}

func cookieValue(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
