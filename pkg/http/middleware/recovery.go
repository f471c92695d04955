// Package middleware holds the Echo middleware chain shared by every route:
// panic recovery, structured request logging, Prometheus instrumentation
// and CORS.
package middleware

import (
	"net/http"
	"runtime/debug"

	applogger "EdgeLab/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover converts handler panics into 500 responses so one bad request
// cannot take the process down.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if l != nil {
					l.Error("handler panic",
						applogger.String("path", c.Request().URL.Path),
						applogger.Any("panic", r),
						applogger.String("stack", string(debug.Stack())),
					)
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
			}()
			return next(c)
		}
	}
}
