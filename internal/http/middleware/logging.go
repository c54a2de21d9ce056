// Package middleware contains the Gin middleware shared by the group chat API.
//
// This file provides correlation ids, caller identity, panic recovery and
// access to the request-scoped logger:
//
//   - RequestID() propagates or generates X-Request-ID.
//   - Identity() resolves the caller from X-User-ID. The service has a single
//     human member per group, so the header only scopes idempotency keys,
//     reactions and rate limits; it is not authentication.
//   - Recovery() turns panics into the JSON error envelope.
//   - LoggerFrom() returns the logger attached by RedactingLogger.
//
// Recommended order: RequestID, Identity, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// userIDKey is the Gin context key holding the resolved caller id.
	userIDKey = "userID"
	// HeaderUserID identifies the caller.
	HeaderUserID = "X-User-ID"
	// DefaultUserID is used when no caller id is supplied.
	DefaultUserID = "user"

	loggerKey    = "logger"
	maxUserIDLen = 64
)

// RequestID attaches (or propagates) a correlation identifier per request.
// The id is echoed in the X-Request-ID response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Identity stores the caller id under "userID". A missing header resolves
// to DefaultUserID; a malformed one is rejected with 400.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			uid = DefaultUserID
		} else if !validUserID(uid) {
			abortJSON(c, http.StatusBadRequest, "bad_request", "invalid "+HeaderUserID+" header")
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the caller id resolved by Identity, or DefaultUserID.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultUserID
}

func validUserID(s string) bool {
	if len(s) > maxUserIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '@':
		default:
			return false
		}
	}
	return true
}

// Recovery intercepts panics, logs the stack with the request id and answers
// with a JSON 500 when nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Writer.Written() {
					abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, falling back to the global
// logger tagged with the request id when none was attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	rid, _ := c.Get(requestIDKey)
	l := log.With().Str("request_id", asString(rid)).Logger()
	return &l
}

// abortJSON writes the shared error envelope from middleware, which cannot
// import the handlers package.
func abortJSON(c *gin.Context, status int, code, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(rid),
		"code":       code,
		"message":    msg,
	})
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at limit bytes, appending an ellipsis when cut.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
