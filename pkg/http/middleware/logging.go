package middleware

import (
	"time"

	applogger "EdgeLab/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging emits one structured line per request. 5xx responses log at
// error level, responses slower than slow log at warn, everything else at
// debug. A nil logger disables the middleware.
func RequestLogging(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if l == nil {
				return err
			}

			res := c.Response()
			elapsed := time.Since(start)
			fields := []applogger.Field{
				applogger.String("method", c.Request().Method),
				applogger.String("route", routeLabel(c)),
				applogger.Int("status", res.Status),
				applogger.Duration("elapsed_ms", elapsed),
				applogger.Int64("bytes", res.Size),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && elapsed >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}

// routeLabel prefers the route template (e.g. /api/hypotheses/:id) so label
// and log cardinality stay bounded.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
