package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if seen == "" {
		t.Fatal("no request id generated")
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatal("generated id not echoed in response header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "client-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "client-supplied" {
		t.Fatalf("client id not honoured, got %q", seen)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	h := RateLimit(okHandler(), 2, 1)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/opportunities", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("requests within burst rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("burst overflow not limited: %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/v1/opportunities", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("separate client limited: %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, header := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(header) == "" {
			t.Errorf("missing %s header", header)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/opportunities", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	CORS(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatal("local origin not allowed")
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); !errors.Is(err, errNoAuthHeader) {
		t.Fatalf("empty header: got %v", err)
	}
	if _, err := extractBearerToken("Basic dXNlcg=="); err == nil {
		t.Fatal("non-bearer scheme accepted")
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Fatal("blank token accepted")
	}
	tok, err := extractBearerToken("bearer abc.def.ghi")
	if err != nil || tok != "abc.def.ghi" {
		t.Fatalf("case-insensitive scheme: tok=%q err=%v", tok, err)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if ip := clientIP(req); ip != "198.51.100.7" {
		t.Fatalf("clientIP = %q", ip)
	}
}
