package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"cardimg-proxy-go/internal/config"
	"cardimg-proxy-go/internal/service"
)

// ImageHandler serves the image proxy endpoint.
type ImageHandler struct {
	service *service.ImageProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(svc *service.ImageProxyService, cfg *config.Config, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "image_handler"),
	}
}

// Handle proxies a single card image. The target is taken from the "url"
// query parameter; "src" is accepted as a legacy alias for older versions
// of the printing front-end.
func (h *ImageHandler) Handle(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		raw = c.QueryParam("src")
	}

	target, err := h.service.ValidateTarget(raw)
	if err != nil {
		return h.mapError(c, raw, err)
	}

	img, err := h.service.Fetch(c.Request().Context(), target)
	if err != nil {
		return h.mapError(c, raw, err)
	}

	c.Response().Header().Set("Cache-Control", h.cfg.Image.CacheControl())
	// The body is fully in memory, so declare its length up front; left to
	// net/http, bodies over its small pre-chunking buffer would be sent
	// chunked without one.
	c.Response().Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	return c.Blob(http.StatusOK, img.ContentType, img.Data)
}

// Preflight answers CORS preflight requests with 200 and no body. The CORS
// headers themselves are set by middleware on every response.
func (h *ImageHandler) Preflight(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *ImageHandler) mapError(c echo.Context, target string, err error) error {
	h.logger.Error("image proxy error",
		"err", err,
		"target", target,
	)

	switch {
	case errors.Is(err, service.ErrMissingParam),
		errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, service.ErrDisallowedScheme),
		errors.Is(err, service.ErrNotImage),
		errors.Is(err, service.ErrImageTooSmall):
		return jsonError(c, http.StatusBadRequest, err)

	case errors.Is(err, service.ErrDisallowedHost):
		return jsonError(c, http.StatusForbidden, err)

	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream fetch timed out",
		})

	case errors.Is(err, context.Canceled):
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})

	case errors.Is(err, service.ErrImageTooLarge):
		return jsonError(c, http.StatusBadGateway, err)
	}

	// Mirror non-2xx upstream statuses back to the caller so the browser
	// sees the same 404 the card-database host produced.
	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return jsonError(c, statusErr.StatusCode, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

func jsonError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}
