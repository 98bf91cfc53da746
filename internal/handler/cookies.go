package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/auth"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

// CookiePolicy controls the attributes of the auth cookies. Secure cookies
// use SameSite=None so a separately hosted client can send them.
type CookiePolicy struct {
	Secure bool
}

func (p CookiePolicy) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: httpOnly,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Secure {
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

// setSession writes all four cookies. csrfToken is readable by scripts so
// the client can echo it in the X-CSRF-Token header.
func (p CookiePolicy) setSession(c echo.Context, creds auth.Credentials, now time.Time) {
	c.SetCookie(p.cookie(middleware.AccessCookie, creds.Access.Token, creds.Access.Exp.Sub(now), true))
	c.SetCookie(p.cookie(middleware.RefreshCookie, creds.Refresh.Token, creds.Refresh.Exp.Sub(now), true))
	c.SetCookie(p.cookie(middleware.SessionCookie, creds.Session.SessionID, model.SessionTTL, true))
	c.SetCookie(p.cookie(middleware.CSRFCookie, creds.Session.CSRFToken, model.SessionTTL, false))
}

func (p CookiePolicy) clear(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, middleware.RefreshCookie, middleware.SessionCookie} {
		ck := p.cookie(name, "", 0, true)
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
	ck := p.cookie(middleware.CSRFCookie, "", 0, false)
	ck.MaxAge = -1
	c.SetCookie(ck)
}
