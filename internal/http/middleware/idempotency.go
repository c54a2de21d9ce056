// Package middleware contains the Gin middleware shared by the group chat API.
//
// This file validates the Idempotency-Key header of unsafe requests and
// detects replays. Keys are scoped to (caller, group): the group is the
// ":id" route parameter. A replayed POST is still routed to its handler,
// which returns the turn recorded for the key instead of starting a new one.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the key was already recorded for this caller
// and group.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length (default 200).
	MaxLen int
	// Pattern restricts allowed characters (default ^[A-Za-z0-9._~\-:]+$).
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a live record exists for
// (userID, groupID, key). Lookup errors never block the request.
type IdempotencyLookup func(ctx context.Context, userID, groupID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates and stashes the key of POST, PUT, PATCH and
// DELETE requests. A replay is flagged so the rate limiter lets it through.
// Safe methods ignore the header.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid "+HeaderIdempotencyKey)
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if groupID := c.Param("id"); lookup != nil && groupID != "" {
			exists, err := lookup(c.Request.Context(), UserID(c), groupID, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
