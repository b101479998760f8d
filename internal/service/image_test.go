package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cardimg-proxy-go/internal/client"
	"cardimg-proxy-go/internal/config"
)

// pngHeader is a minimal PNG signature used to pad fake image bodies.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func fakeImage(size int) []byte {
	data := make([]byte, size)
	copy(data, pngHeader)
	return data
}

func testConfig() *config.Config {
	return &config.Config{
		Image: config.ImageConfig{
			MinBytes:           1000,
			MaxBytes:           20 * 1024 * 1024,
			CacheMaxAgeSeconds: 3600,
			DefaultContentType: "image/png",
		},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
			UserAgent:       "test-agent",
		},
	}
}

func newTestService(cfg *config.Config) *ImageProxyService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewImageClient(cfg, logger, nil)
	return NewImageProxyService(c, cfg, logger, nil)
}

func TestValidateTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Image.AllowedHosts = []string{"onepiece-cardgame.com", "optcgplay.com"}
	s := newTestService(cfg)

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"missing", "", ErrMissingParam},
		{"not absolute", "cards/OP01-001.png", ErrInvalidURL},
		{"no host", "https:///OP01-001.png", ErrInvalidURL},
		{"garbage", "://nope", ErrInvalidURL},
		{"ftp scheme", "ftp://onepiece-cardgame.com/x.png", ErrDisallowedScheme},
		{"file scheme", "file:///etc/passwd", ErrInvalidURL},
		{"javascript scheme", "javascript:alert(1)", ErrInvalidURL},
		{"exact host", "https://onepiece-cardgame.com/images/OP01-001.png", nil},
		{"subdomain", "https://en.onepiece-cardgame.com/images/OP01-001.png", nil},
		{"deep subdomain", "https://cdn.asia.onepiece-cardgame.com/x.png", nil},
		{"case folded", "https://EN.OnePiece-CardGame.COM/x.png", nil},
		{"second entry", "http://optcgplay.com/x.png", nil},
		{"suffix without dot", "https://evilonepiece-cardgame.com/x.png", ErrDisallowedHost},
		{"unlisted host", "https://example.com/x.png", ErrDisallowedHost},
		{"entry as subdomain of attacker", "https://onepiece-cardgame.com.evil.net/x.png", ErrDisallowedHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := s.ValidateTarget(tt.raw)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateTarget(%q) error = %v, want nil", tt.raw, err)
				}
				if target == nil || target.URL == nil {
					t.Fatalf("ValidateTarget(%q) returned nil target", tt.raw)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTarget(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTarget_OpenMode(t *testing.T) {
	// No allowed_hosts configured: any http/https host passes.
	s := newTestService(testConfig())

	if _, err := s.ValidateTarget("https://anything.example.net/card.png"); err != nil {
		t.Errorf("ValidateTarget() error = %v, want nil in open mode", err)
	}
	if _, err := s.ValidateTarget("ftp://anything.example.net/card.png"); !errors.Is(err, ErrDisallowedScheme) {
		t.Errorf("ValidateTarget() error = %v, want ErrDisallowedScheme even in open mode", err)
	}
}

func TestFetch_Success(t *testing.T) {
	body := fakeImage(2000)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	s := newTestService(testConfig())
	target, err := s.ValidateTarget(upstream.URL + "/card.png")
	if err != nil {
		t.Fatalf("ValidateTarget: %v", err)
	}

	img, err := s.Fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want %q", img.ContentType, "image/png")
	}
	if !bytes.Equal(img.Data, body) {
		t.Errorf("Data: got %d bytes, want the identical %d upstream bytes", len(img.Data), len(body))
	}
}

func TestFetch_DefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress Go's automatic content-type sniffing so the response
		// carries no Content-Type header at all.
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(fakeImage(2000))
	}))
	defer upstream.Close()

	s := newTestService(testConfig())
	target, _ := s.ValidateTarget(upstream.URL + "/card")

	img, err := s.Fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want default %q", img.ContentType, "image/png")
	}
}

func TestFetch_UpstreamStatusMirrored(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	s := newTestService(testConfig())
	target, _ := s.ValidateTarget(upstream.URL + "/missing.png")

	_, err := s.Fetch(context.Background(), target)
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Fetch() error = %v, want *UpstreamStatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
	}
}

func TestFetch_NonImageContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("<html>error</html>"), 200))
	}))
	defer upstream.Close()

	cfg := testConfig()
	s := newTestService(cfg)
	target, _ := s.ValidateTarget(upstream.URL + "/card.png")

	if _, err := s.Fetch(context.Background(), target); !errors.Is(err, ErrNotImage) {
		t.Errorf("Fetch() error = %v, want ErrNotImage", err)
	}

	// Lenient mode relays the body anyway.
	cfg.Image.AllowNonImage = true
	if _, err := s.Fetch(context.Background(), target); err != nil {
		t.Errorf("Fetch() error = %v, want nil with allow_non_image", err)
	}
}

func TestFetch_BodyTooSmall(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(fakeImage(200))
	}))
	defer upstream.Close()

	s := newTestService(testConfig())
	target, _ := s.ValidateTarget(upstream.URL + "/tiny.png")

	if _, err := s.Fetch(context.Background(), target); !errors.Is(err, ErrImageTooSmall) {
		t.Errorf("Fetch() error = %v, want ErrImageTooSmall", err)
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(fakeImage(5000))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Image.MinBytes = 100
	cfg.Image.MaxBytes = 2048
	s := newTestService(cfg)
	target, _ := s.ValidateTarget(upstream.URL + "/big.png")

	if _, err := s.Fetch(context.Background(), target); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("Fetch() error = %v, want ErrImageTooLarge", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Upstream.TimeoutSeconds = 1
	s := newTestService(cfg)
	target, _ := s.ValidateTarget(upstream.URL + "/slow.png")

	start := time.Now()
	_, err := s.Fetch(context.Background(), target)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Fetch() took %v, want the deadline to abort the in-flight request", elapsed)
	}
}

func TestIsImageContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"image/webp; charset=binary", true},
		{"IMAGE/PNG", true},
		{" image/png ", true},
		{"text/html", false},
		{"text/html; charset=utf-8", false},
		{"application/octet-stream", false},
		{"imagex/png", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := isImageContentType(tt.contentType); got != tt.want {
				t.Errorf("isImageContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestHostAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Image.AllowedHosts = []string{"limitlesstcg.nyc3.cdn.digitaloceanspaces.com"}
	s := newTestService(cfg)

	if !s.hostAllowed("limitlesstcg.nyc3.cdn.digitaloceanspaces.com") {
		t.Error("exact match should be allowed")
	}
	if s.hostAllowed("nyc3.cdn.digitaloceanspaces.com") {
		t.Error("parent domain of an entry should not be allowed")
	}
}
