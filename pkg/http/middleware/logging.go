package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	xlogger "CapitalDash/pkg/logger"
)

// RequestLogging logs one line per request. 5xx answers log at error level,
// 4xx at warn and the rest at debug.
func RequestLogging(l *xlogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []xlogger.Field{
				xlogger.String("method", req.Method),
				xlogger.String("uri", req.RequestURI),
				xlogger.String("remote", c.RealIP()),
				xlogger.Int("status", status),
				xlogger.Duration("latency_ms", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("http request", fields...)
			case status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
