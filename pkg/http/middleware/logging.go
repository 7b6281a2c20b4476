package middleware

import (
	"time"

	applogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each HTTP request with method, path, status and
// latency.
func RequestLogging(log *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			if log != nil {
				log.Info("http request",
					applogger.String("method", req.Method),
					applogger.String("path", req.RequestURI),
					applogger.String("remote", req.RemoteAddr),
					applogger.Int("status", c.Response().Status),
					applogger.Duration("duration_ms", time.Since(start)),
				)
			}

			return err
		}
	}
}
