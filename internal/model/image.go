// Package model defines shared types for the image proxy.
package model

import (
	"io"
	"net/http"
	"net/url"
)

// Target is a fetch target that has passed URL and policy validation.
type Target struct {
	URL *url.URL
}

// Origin returns the scheme://host origin of the target, used as the
// Referer when fetching. Card-image CDNs commonly reject requests whose
// Referer does not match their own origin.
func (t *Target) Origin() string {
	return t.URL.Scheme + "://" + t.URL.Host
}

// String returns the full target URL.
func (t *Target) String() string {
	return t.URL.String()
}

// UpstreamResponse represents the raw upstream response before validation.
type UpstreamResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}

// Image is a fully fetched and validated image ready to be served.
type Image struct {
	ContentType string
	Data        []byte
}
