package apihttp

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"remotestream/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// ---------- CORS middleware tests ----------

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"nil list reflects origin", nil, "http://example.com", "http://example.com"},
		{"empty list reflects origin", []string{}, "http://anything.com", "http://anything.com"},
		{"whitelisted", []string{"http://a.com", "http://b.com"}, "http://b.com", "http://b.com"},
		{"not whitelisted", []string{"http://a.com"}, "http://evil.com", ""},
		{"trailing slash trimmed", []string{"http://example.com/"}, "http://example.com", "http://example.com"},
		{"whitespace trimmed", []string{"  http://example.com  "}, "http://example.com", "http://example.com"},
		{"same origin sets nothing", []string{"http://a.com"}, "", ""},
		{"same origin with open list", nil, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := corsMiddleware(tc.allowed, okHandler)
			req := httptest.NewRequest(http.MethodGet, "/sources", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Errorf("ACAO = %q, want %q", got, tc.want)
			}
			// CORS is advisory; the handler always runs.
			if rec.Code != http.StatusOK {
				t.Errorf("expected handler to run, got %d", rec.Code)
			}
		})
	}
}

func TestCorsMiddleware_ExposesRangeHeaders(t *testing.T) {
	handler := corsMiddleware(nil, okHandler)
	req := httptest.NewRequest(http.MethodGet, "/sources/s1/stream", nil)
	req.Header.Set("Origin", "http://player.local")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"Content-Range", "Accept-Ranges", "ETag"} {
		if !containsToken(exposed, h) {
			t.Errorf("expected %s in Expose-Headers, got %q", h, exposed)
		}
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !containsToken(got, "Range") {
		t.Errorf("expected Range in Allow-Headers, got %q", got)
	}
}

func TestCorsMiddleware_PreflightReturns204(t *testing.T) {
	called := false
	handler := corsMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/sources", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Error("preflight should not call the next handler")
	}
}

// ---------- Rate limit middleware tests ----------

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	handler := rateLimitMiddleware(100, 10, okHandler)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_Returns429AfterBurst(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 2, okHandler)

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sources", nil))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After: 1, got %q", got)
	}
	var body errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limited" {
		t.Errorf("code = %q, want rate_limited", body.Error.Code)
	}
}

func TestRateLimitMiddleware_SkipsProbes(t *testing.T) {
	for _, path := range []string{"/healthz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			handler := rateLimitMiddleware(0.001, 1, okHandler)
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sources", nil))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("expected %s to bypass rate limit, got %d", path, rec.Code)
			}
		})
	}
}

// ---------- Recovery middleware tests ----------

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name  string
		inner http.HandlerFunc
		want  int
	}{
		{"string panic", func(w http.ResponseWriter, r *http.Request) { panic("boom") }, http.StatusInternalServerError},
		{"error panic", func(w http.ResponseWriter, r *http.Request) { panic(errors.New("boom")) }, http.StatusInternalServerError},
		{"no panic", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }, http.StatusCreated},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := recoveryMiddleware(slog.Default(), tc.inner)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

// ---------- Logging middleware tests ----------

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	handler := loggingMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/sources/s1/stream", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("expected body 'hello', got %q", rec.Body.String())
	}
}

// ---------- responseWriter tests ----------

func TestResponseWriter_TracksStatusAndSize(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	rw.WriteHeader(http.StatusPartialContent)
	_, _ = rw.Write([]byte("hello"))
	_, _ = rw.Write([]byte(" world"))

	if rw.status != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", rw.status)
	}
	if rw.size != 11 {
		t.Errorf("size = %d, want 11", rw.size)
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Flush()

	if !rec.Flushed {
		t.Error("expected flush to reach the underlying recorder")
	}
}

// fakeHijacker wraps a ResponseWriter and implements Hijacker.
type fakeHijacker struct {
	http.ResponseWriter
}

func (f *fakeHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	supported := &responseWriter{ResponseWriter: &fakeHijacker{ResponseWriter: httptest.NewRecorder()}}
	if _, _, err := supported.Hijack(); err != nil {
		t.Errorf("expected hijack to succeed, got %v", err)
	}

	unsupported := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := unsupported.Hijack(); err == nil {
		t.Error("expected error when underlying writer doesn't support Hijack")
	}
}

// ---------- clientIP tests ----------

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		want       string
	}{
		{name: "X-Forwarded-For first hop", xff: " 1.2.3.4 , 10.0.0.1", remoteAddr: "5.6.7.8:9999", want: "1.2.3.4"},
		{name: "X-Real-IP fallback", xRealIP: "10.0.0.1", remoteAddr: "5.6.7.8:9999", want: "10.0.0.1"},
		{name: "RemoteAddr with port", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "RemoteAddr without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "blank XFF falls through", xff: "   ", remoteAddr: "5.6.7.8:9999", want: "5.6.7.8"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xRealIP != "" {
				req.Header.Set("X-Real-IP", tc.xRealIP)
			}
			req.RemoteAddr = tc.remoteAddr

			if got := clientIP(req); got != tc.want {
				t.Errorf("clientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		value string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "hel"},
		{"hello", 0, "hello"},
		{"hello", -1, "hello"},
	}

	for _, tc := range tests {
		if got := truncate(tc.value, tc.limit); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.value, tc.limit, got, tc.want)
		}
	}
}

// ---------- routing helpers ----------

func TestPickRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/sources", 500, slog.LevelError},
		{"/sources", 502, slog.LevelError},
		{"/sources", 404, slog.LevelWarn},
		{"/sources", 201, slog.LevelInfo},
		{"/healthz", 200, slog.LevelDebug},
		{"/sources/s1/stream", 206, slog.LevelDebug},
		{"/sources/s1/stream", 416, slog.LevelWarn},
		{"/healthz", 503, slog.LevelError},
	}

	for _, tc := range tests {
		if got := pickRequestLogLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("pickRequestLogLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "/metrics"},
		{"/healthz", "/healthz"},
		{"/ws", "/ws"},
		{"/sources", "/sources"},
		{"/sources/abc123", "/sources/:id"},
		{"/sources/abc123/stream", "/sources/:id/stream"},
		{"/sources/abc123/refresh", "/sources/:id/refresh"},
		{"/unknown", "/other"},
		{"/", "/other"},
	}

	for _, tc := range tests {
		if got := normalizeRoute(tc.path); got != tc.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

// ---------- Metrics middleware tests ----------

func TestMetricsMiddleware_RecordsRoute(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/sources/:id", "404")
	before := testutil.ToFloat64(counter)

	handler := metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sources/missing", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("counter delta = %v, want 1", got)
	}
}

func TestMetricsMiddleware_SkipsMetricsPath(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/metrics", "200")
	before := testutil.ToFloat64(counter)

	metricsMiddleware(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := testutil.ToFloat64(counter) - before; got != 0 {
		t.Errorf("expected /metrics to be skipped, delta = %v", got)
	}
}

// ---------- Integration: middleware chain order ----------

func TestMiddlewareChain_RecoveryOutermost(t *testing.T) {
	logger := slog.Default()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test chain panic")
	})

	chain := recoveryMiddleware(logger,
		rateLimitMiddleware(100, 200,
			metricsMiddleware(
				corsMiddleware(nil,
					loggingMiddleware(logger, inner)))))

	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()

	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from recovery middleware, got %d", rec.Code)
	}
}

func containsToken(list, token string) bool {
	for _, part := range parseCommaSeparated(list) {
		if part == token {
			return true
		}
	}
	return false
}
