package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	if key := KeyByUserOrIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("expected ip key, got %q", key)
	}
	// The default identity is shared by anonymous callers, so it never keys a bucket.
	c.Set(userIDKey, DefaultUserID)
	if key := KeyByUserOrIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("expected ip key without header, got %q", key)
	}
	req.Header.Set(HeaderUserID, "u123")
	c.Set(userIDKey, "u123")
	if key := KeyByUserOrIP()(c); key != "user:u123" {
		t.Fatalf("expected user key, got %q", key)
	}
}

func TestRateLimiter_BucketReuseAndEviction(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.limiter("k1")
	if rl.limiter("k1") != lim {
		t.Fatalf("expected the same bucket")
	}

	rl.ttl = time.Nanosecond
	rl.visitors["k1"].lastSeen = time.Now().Add(-time.Hour)
	rl.lookups = 4999
	if rl.limiter("k1") == lim {
		t.Fatalf("idle bucket should have been evicted and recreated")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookup counter not reset: %d", rl.lookups)
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(RequestID(), Identity())
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") == "1" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.POST("/groups/:id/messages", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.GET("/groups/:id/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, user string, replay bool) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/groups/g1/messages", nil)
		if user != "" {
			req.Header.Set(HeaderUserID, user)
		}
		if replay {
			req.Header.Set("X-Replay", "1")
		}
		r.ServeHTTP(w, req)
		return w
	}

	base := testutil.ToFloat64(rateLimited.WithLabelValues("/groups/:id/messages"))

	if w := do(http.MethodPost, "u1", false); w.Code != http.StatusAccepted {
		t.Fatalf("first post: %d", w.Code)
	}
	w := do(http.MethodPost, "u1", false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second post: %d", w.Code)
	}
	if s, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || s < 1 || s > 2 {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("/groups/:id/messages")); got != base+1 {
		t.Fatalf("rate limited counter = %v, want %v", got, base+1)
	}

	// Reads, replays and other callers are unaffected.
	for i := 0; i < 3; i++ {
		if w := do(http.MethodGet, "u1", false); w.Code != http.StatusOK {
			t.Fatalf("get %d: %d", i, w.Code)
		}
	}
	if w := do(http.MethodPost, "u1", true); w.Code != http.StatusAccepted {
		t.Fatalf("replay: %d", w.Code)
	}
	if w := do(http.MethodPost, "u2", false); w.Code != http.StatusAccepted {
		t.Fatalf("other user: %d", w.Code)
	}
}
