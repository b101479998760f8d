package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// /api/img mirrors the path the printing front-end has always used;
// /img is the canonical route.
func RegisterRoutes(e *echo.Echo, image *ImageHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/img", image.Handle)
	e.OPTIONS("/img", image.Preflight)
	e.GET("/api/img", image.Handle)
	e.OPTIONS("/api/img", image.Preflight)
}
