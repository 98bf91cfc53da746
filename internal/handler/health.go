package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything whose reachability the health check reports:
// *sql.DB and a Redis client adapter both fit.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health returns 200 "ok" when every dependency answers, 503 with the
// failing names otherwise. No dependencies means plain liveness.
func Health(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		down := map[string]string{}
		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				down[name] = err.Error()
			}
		}
		if len(down) > 0 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "down": down})
		}
		return c.String(http.StatusOK, "ok")
	}
}
