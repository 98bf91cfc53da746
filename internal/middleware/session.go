package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/auth"
	"github.com/iliyamo/echosecure-chat/internal/logging"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, sessionCookie string) (auth.Principal, error)
}

type CSRFValidator interface {
	ValidateCSRF(ctx context.Context, headerToken, sessionID string) error
}

// RequireSession checks the access token cookie against the session
// cookie and stores the caller in the context under "user_id" and
// "session_id".
func RequireSession(a Authenticator, log logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := a.Authenticate(c.Request().Context(), cookieValue(c, AccessCookie), cookieValue(c, SessionCookie))
			if err != nil {
				if apperr.KindOf(err) == apperr.KindAuth {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Message(err)})
				}
				log.Error(c.Request().Context(), "authenticate failed", "err", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
			}
			c.Set(userIDKey, p.UserID)
			c.Set(sessionIDKey, p.SessionID)
			return next(c)
		}
	}
}

// RequireCSRF rejects state-changing requests whose X-CSRF-Token header
// does not match the token stored on the caller's session. Safe methods
// pass through. Must run after RequireSession.
func RequireCSRF(v CSRFValidator, log logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			sid := SessionID(c)
			if sid == "" {
				sid = cookieValue(c, SessionCookie)
			}
			if err := v.ValidateCSRF(c.Request().Context(), c.Request().Header.Get(CSRFHeader), sid); err != nil {
				if apperr.KindOf(err) == apperr.KindForbidden {
					return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Message(err)})
				}
				log.Error(c.Request().Context(), "csrf check failed", "err", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
			}
			return next(c)
		}
	}
}
