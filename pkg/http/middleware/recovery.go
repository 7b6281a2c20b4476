package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover returns recovery middleware. Panics are logged with the stack
// and answered with a generic 500.
func Recover(log *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					if log != nil {
						log.Error("handler panicked",
							applogger.String("path", c.Request().URL.Path),
							applogger.Error(err),
							applogger.String("stack", string(debug.Stack())),
						)
					}
					_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":  http.StatusInternalServerError,
						"message": "Internal Server Error",
					})
				}
			}()
			return next(c)
		}
	}
}
