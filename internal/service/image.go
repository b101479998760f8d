// Package service implements the image proxy validation and fetch pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cardimg-proxy-go/internal/client"
	"cardimg-proxy-go/internal/config"
	"cardimg-proxy-go/internal/metrics"
	"cardimg-proxy-go/internal/model"
)

// Validation pipeline errors, surfaced by the handler as JSON error responses.
var (
	// ErrMissingParam is returned when the request carries no image URL.
	ErrMissingParam = errors.New("image URL parameter required")

	// ErrInvalidURL is returned when the parameter is not an absolute URL.
	ErrInvalidURL = errors.New("invalid image URL")

	// ErrDisallowedScheme is returned for schemes other than http and https.
	ErrDisallowedScheme = errors.New("invalid protocol: only http and https are supported")

	// ErrDisallowedHost is returned when the hostname is not covered by the allow-list.
	ErrDisallowedHost = errors.New("domain not allowed")

	// ErrNotImage is returned when the upstream Content-Type is not image/*.
	ErrNotImage = errors.New("upstream response is not an image")

	// ErrImageTooSmall is returned when the body is below the configured size
	// floor. Card-image hosts sometimes serve tiny placeholder images or HTML
	// error pages with a 200 status; the floor catches those.
	ErrImageTooSmall = errors.New("image too small")

	// ErrImageTooLarge is returned when the body exceeds the configured cap.
	ErrImageTooLarge = errors.New("image exceeds size limit")
)

// UpstreamStatusError reports a non-2xx upstream response. The proxy mirrors
// the upstream status code back to the caller.
type UpstreamStatusError struct {
	StatusCode int
	Status     string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// ImageProxyService validates fetch targets against the configured policy,
// fetches them within a bounded timeout, and validates the response.
type ImageProxyService struct {
	client  *client.ImageClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewImageProxyService creates an ImageProxyService.
// The metrics parameter is optional; pass nil to disable rejection metrics.
func NewImageProxyService(c *client.ImageClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageProxyService {
	return &ImageProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "image_proxy_service"),
		metrics: m,
		timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}
}

// ValidateTarget checks the raw URL parameter against the security policy
// and returns a validated fetch target. Each gate short-circuits: presence,
// syntactic validity, scheme, then host allow-list.
func (s *ImageProxyService) ValidateTarget(raw string) (*model.Target, error) {
	if raw == "" {
		s.reject(metrics.ReasonMissingParam)
		return nil, ErrMissingParam
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		s.reject(metrics.ReasonInvalidURL)
		return nil, ErrInvalidURL
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		s.reject(metrics.ReasonScheme)
		return nil, ErrDisallowedScheme
	}

	if s.cfg.Image.EnforceAllowlist() && !s.hostAllowed(u.Hostname()) {
		s.reject(metrics.ReasonHost)
		return nil, fmt.Errorf("%w: %s", ErrDisallowedHost, u.Hostname())
	}

	return &model.Target{URL: u}, nil
}

// Fetch retrieves the validated target within the configured timeout and
// validates the upstream response: 2xx status, image content type, and body
// size within bounds. A single attempt is made; failures are not retried.
func (s *ImageProxyService) Fetch(ctx context.Context, target *model.Target) (*model.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Fetch(ctx, target)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.reject(metrics.ReasonTimeout)
		} else {
			s.reject(metrics.ReasonUpstreamFailure)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.reject(metrics.ReasonUpstreamStatus)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isImageContentType(contentType) {
		if !s.cfg.Image.AllowNonImage {
			s.reject(metrics.ReasonContentType)
			return nil, fmt.Errorf("%w: got %q", ErrNotImage, contentType)
		}
		s.logger.Warn("non-image content type, serving anyway",
			"content_type", contentType,
			"host", target.URL.Hostname(),
		)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.Image.MaxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.reject(metrics.ReasonTimeout)
		} else {
			s.reject(metrics.ReasonUpstreamFailure)
		}
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > s.cfg.Image.MaxBytes {
		s.reject(metrics.ReasonBodyTooLarge)
		return nil, fmt.Errorf("%w: over %d bytes", ErrImageTooLarge, s.cfg.Image.MaxBytes)
	}
	if int64(len(data)) < s.cfg.Image.MinBytes {
		s.reject(metrics.ReasonBodyTooSmall)
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooSmall, len(data))
	}

	if contentType == "" {
		contentType = s.cfg.Image.DefaultContentType
	}

	return &model.Image{ContentType: contentType, Data: data}, nil
}

// hostAllowed reports whether the case-folded hostname equals an allow-list
// entry or is a subdomain of one.
func (s *ImageProxyService) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range s.cfg.Image.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// isImageContentType reports whether the media type (parameters stripped)
// is image/*.
func isImageContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(mediaType)), "image/")
}

func (s *ImageProxyService) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}
