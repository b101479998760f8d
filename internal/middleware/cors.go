package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CORS returns an Echo middleware that marks every response as
// cross-origin readable. The proxy exists so the printing front-end can
// load third-party card images into a canvas; the wildcard origin is
// deliberate, and the headers are set unconditionally so error responses
// remain readable by the browser as well.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			if c.Request().Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", "86400")
			}
			return next(c)
		}
	}
}
