package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vodgate/internal/api"
	"vodgate/internal/auth"
	"vodgate/internal/upload"
)

const testSecret = "uploader-secret"

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store, err := upload.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	tokens := auth.NewManager()
	if err := tokens.Provision(context.Background(), "alice", testSecret, []string{"uploader"}, 0); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	handler := api.NewHandler(api.Config{
		Uploads: store,
		Tokens:  tokens,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	req.Header.Set("Upload-Length", "10")
	req.Header.Set("Tus-Resumable", "1.0.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealthEndpointNeedsNoToken(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doRequest(srv, createRequest(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(srv, createRequest("wrong-secret"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAuthenticatedCreateThroughFullChain(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doRequest(srv, createRequest(testSecret))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/api/uploads/") {
		t.Fatalf("unexpected Location header %q", loc)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated X-Request-Id header")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
}

func TestCreateRateLimitPerClient(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{CreateLimit: 1, CreateWindow: time.Minute},
	})

	first := doRequest(srv, createRequest(testSecret))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first create to pass, got %d", first.Code)
	}

	second := doRequest(srv, createRequest(testSecret))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second create, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint on 429")
	}

	// Non-create traffic is not subject to the creation throttle.
	head := httptest.NewRequest(http.MethodHead, "/api/uploads/nope", nil)
	head.Header.Set("Authorization", "Bearer "+testSecret)
	if rec := doRequest(srv, head); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("HEAD should not be throttled, got %d", rec.Code)
	}
}

func TestRequestIDEchoedWhenProvided(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-abc-123")
	rec := doRequest(srv, req)
	if got := rec.Header().Get("X-Request-Id"); got != "trace-abc-123" {
		t.Fatalf("expected request id echo, got %q", got)
	}
}

func TestCORSPreflightExposesUploadHeaders(t *testing.T) {
	srv := newTestServer(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://studio.example.com"}},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/uploads", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := doRequest(srv, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, header := range []string{"Upload-Offset", "Upload-Expires", "Location"} {
		if !strings.Contains(exposed, header) {
			t.Fatalf("expected %s in exposed headers, got %q", header, exposed)
		}
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	srv := newTestServer(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://studio.example.com"}},
	})

	req := createRequest(testSecret)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := doRequest(srv, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rec.Code)
	}
}

func TestUploadIDFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/uploads/abc123", "abc123"},
		{"/api/uploads/abc123/complete", "abc123"},
		{"/api/uploads/", ""},
		{"/api/uploads", ""},
		{"/api/uploads/a/b", ""},
		{"/healthz", ""},
	}
	for _, tc := range cases {
		if got := uploadIDFromPath(tc.path); got != tc.want {
			t.Fatalf("uploadIDFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
