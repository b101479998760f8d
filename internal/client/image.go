// Package client provides the upstream HTTP client for fetching card images.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cardimg-proxy-go/internal/config"
	"cardimg-proxy-go/internal/metrics"
	"cardimg-proxy-go/internal/model"
)

// ImageClient fetches images from upstream card-image hosts.
type ImageClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewImageClient creates an ImageClient with connection pooling and dial timeouts.
// The overall fetch deadline is driven by the caller's context, not a client
// timeout, so the service layer owns the per-request budget. The metrics
// parameter is optional; pass nil to disable fetch metrics recording.
func NewImageClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &ImageClient{
		httpClient: &http.Client{Transport: transport},
		userAgent:  cfg.Upstream.UserAgent,
		logger:     logger.With("component", "image_client"),
		metrics:    m,
	}
}

// Fetch issues a single GET for the target and returns the raw response.
// The caller is responsible for closing the response body. The provided
// context controls the lifetime of the upstream request: when it is
// canceled or its deadline passes, the in-flight request is aborted and
// the underlying connection is released.
//
// Request headers imitate a browser. Card-image CDNs sit behind anti-bot
// filters that reject bare Go user agents, and several require a Referer
// matching their own origin.
func (c *ImageClient) Fetch(ctx context.Context, target *model.Target) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", target.Origin()+"/")

	c.logger.Debug("upstream fetch",
		"host", target.URL.Hostname(),
		"path", target.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.FetchDuration.Observe(duration)
	}

	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}

	if c.metrics != nil {
		c.metrics.FetchResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
