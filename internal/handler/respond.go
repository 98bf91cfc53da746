package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/logging"
)

// requestTimeout bounds the store work of one request.
const requestTimeout = 5 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindLimitExceeded:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error": "..."}. Internal errors are logged and
// their detail is not sent to the client.
func fail(c echo.Context, log logging.Logger, err error) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "err", err)
	}
	return c.JSON(status, echo.Map{"error": apperr.Message(err)})
}

// failAs is fail with one kind remapped, for endpoints whose contract
// reports e.g. bad credentials as 400.
func failAs(c echo.Context, log logging.Logger, err error, kind apperr.Kind, status int) error {
	if apperr.KindOf(err) == kind {
		return c.JSON(status, echo.Map{"error": apperr.Message(err)})
	}
	return fail(c, log, err)
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
}
