// Package middleware provides Echo middleware for logging, CORS, metrics,
// and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The target image URL (url/src query parameter) is included so failed
// fetches can be traced back to the card-image host that caused them.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			target := req.URL.Query().Get("url")
			if target == "" {
				target = req.URL.Query().Get("src")
			}

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"target", target,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
