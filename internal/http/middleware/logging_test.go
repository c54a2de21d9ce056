package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if c.GetString(requestIDKey) == "" {
			t.Fatalf("requestID not set in context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set("x-request-id", "abc-123")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 200))
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("oversized id should be replaced by a uuid, got %q", got)
	}
}

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity())
	r.GET("/who", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	cases := []struct {
		header string
		code   int
		body   string
	}{
		{"", http.StatusOK, DefaultUserID},
		{"alice@example.com", http.StatusOK, "alice@example.com"},
		{"  bob_1  ", http.StatusOK, "bob_1"},
		{"bad user", http.StatusBadRequest, ""},
		{strings.Repeat("a", 65), http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("header %q: status %d, want %d", tc.header, w.Code, tc.code)
		}
		if tc.code == http.StatusOK && w.Body.String() != tc.body {
			t.Fatalf("header %q: user %q, want %q", tc.header, w.Body.String(), tc.body)
		}
		if tc.code == http.StatusBadRequest && !strings.Contains(w.Body.String(), `"code":"bad_request"`) {
			t.Fatalf("expected error envelope, got %s", w.Body.String())
		}
	}
}

func TestUserID_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := UserID(c); got != DefaultUserID {
		t.Fatalf("fallback mismatch: %q", got)
	}
	c.Set(userIDKey, 42)
	if got := UserID(c); got != DefaultUserID {
		t.Fatalf("wrong type should fall back, got %q", got)
	}
	c.Set(userIDKey, "u1")
	if got := UserID(c); got != "u1" {
		t.Fatalf("got %q", got)
	}
}

func TestRecovery_WritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("after write")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body %v", body)
	}
	lines := logLines(t, buf)
	if len(lines) == 0 || lines[0]["message"] != "panic recovered" || lines[0]["request_id"] != "rid-1" {
		t.Fatalf("panic not logged with request id: %v", lines)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Body.String() != "partial" {
		t.Fatalf("written body must be kept, got %q", w.Body.String())
	}
}

func TestLoggerFrom_FallbackCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(requestIDKey, "rid-9")
	LoggerFrom(c).Info().Msg("hello")
	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["request_id"] != "rid-9" {
		t.Fatalf("unexpected log: %v", lines)
	}
}

func TestTruncate(t *testing.T) {
	if truncate("abc", 0) != "abc" || truncate("abc", 3) != "abc" {
		t.Fatalf("no-op cases changed input")
	}
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("got %q", got)
	}
}
