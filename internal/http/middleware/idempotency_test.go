package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	userID, groupID, key string
}

func idemRouter(t *testing.T, opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity(), IdempotencyValidator(opts, lookup))
	report := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	}
	r.POST("/groups/:id/messages", report)
	r.GET("/groups/:id/messages", report)
	r.POST("/providers", report)
	return r
}

func TestIdempotencyValidator_NoHeader(t *testing.T) {
	called := false
	r := idemRouter(t, IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/groups/g1/messages", nil))
	if w.Code != http.StatusOK || called {
		t.Fatalf("status=%d called=%v", w.Code, called)
	}
	if !strings.Contains(w.Body.String(), `"key":""`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	r := idemRouter(t, IdempotencyOptions{MaxLen: 8, Pattern: regexp.MustCompile(`^[a-z]+$`)}, nil)
	for _, key := range []string{"toolongkey", "UPPER", "has space"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/groups/g1/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: status %d body %s", key, w.Code, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_SafeMethodsIgnoreHeader(t *testing.T) {
	r := idemRouter(t, IdempotencyOptions{}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/groups/g1/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "not valid !!")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"key":""`) {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestIdempotencyValidator_ReplayScopedToCallerAndGroup(t *testing.T) {
	var calls []lookupCall
	r := idemRouter(t, IdempotencyOptions{}, func(_ context.Context, userID, groupID, key string, now time.Time) (bool, error) {
		if now.Location() != time.UTC {
			t.Errorf("lookup time should be UTC")
		}
		calls = append(calls, lookupCall{userID, groupID, key})
		return groupID == "g1" && userID == "u1", nil
	})

	send := func(path, user string) string {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderIdempotencyKey, "k-1")
		if user != "" {
			req.Header.Set(HeaderUserID, user)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
		return w.Body.String()
	}

	if body := send("/groups/g1/messages", "u1"); !strings.Contains(body, `"replay":true`) || !strings.Contains(body, `"bypass":true`) {
		t.Fatalf("expected replay, got %s", body)
	}
	if body := send("/groups/g1/messages", ""); !strings.Contains(body, `"replay":false`) {
		t.Fatalf("other caller must not replay, got %s", body)
	}
	if body := send("/groups/g2/messages", "u1"); !strings.Contains(body, `"replay":false`) || !strings.Contains(body, `"key":"k-1"`) {
		t.Fatalf("other group must not replay, got %s", body)
	}
	send("/providers", "u1")

	want := []lookupCall{{"u1", "g1", "k-1"}, {DefaultUserID, "g1", "k-1"}, {"u1", "g2", "k-1"}}
	if len(calls) != len(want) {
		t.Fatalf("lookup calls %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	captureLogger(t)
	r := idemRouter(t, IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		return false, errors.New("db down")
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-2")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}
