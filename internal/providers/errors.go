package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Failure kinds. Every error produced by an adapter or a call site wraps
// exactly one of these, so callers classify with errors.Is.
var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMalformedRequest    = errors.New("malformed request")
	ErrAuth                = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrTransport           = errors.New("transport failure")
	ErrTimeout             = errors.New("timeout")
	ErrCancelled           = errors.New("cancelled")
)

// CallError is a classified provider failure. Status is the HTTP status
// when the failure came from a response, 0 otherwise.
type CallError struct {
	Kind   error
	Status int
	Detail string
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Kind }

// ClassifyStatus maps a non-2xx response onto a CallError, extracting any
// server-supplied message from body.
func ClassifyStatus(status int, body []byte) *CallError {
	var kind error
	switch {
	case status == http.StatusBadRequest:
		kind = ErrMalformedRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrUpstreamUnavailable
	case status >= 400:
		kind = ErrMalformedRequest
	default:
		kind = ErrUpstreamUnavailable
	}
	return &CallError{Kind: kind, Status: status, Detail: ErrorDetail(body)}
}

const maxDetailRunes = 200

// ErrorDetail pulls a human-readable message out of an error body. JSON
// bodies are searched for the usual message fields; anything else is
// returned trimmed and truncated.
func ErrorDetail(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	var doc map[string]any
	if err := sonic.Unmarshal(body, &doc); err == nil {
		if msg := firstMessage(doc); msg != "" {
			return truncate(msg)
		}
	}
	return truncate(raw)
}

func firstMessage(doc map[string]any) string {
	switch v := doc["error"].(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if m, ok := v["message"].(string); ok && m != "" {
			return m
		}
	}
	for _, k := range []string{"message", "error_msg", "msg"} {
		if m, ok := doc[k].(string); ok && m != "" {
			return m
		}
	}
	return ""
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxDetailRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxDetailRunes]) + "…"
}

// FromContext converts a context error into the matching failure kind.
func FromContext(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Kind: ErrTimeout, Detail: err.Error()}
	case errors.Is(err, context.Canceled):
		return &CallError{Kind: ErrCancelled}
	default:
		return &CallError{Kind: ErrTransport, Detail: err.Error()}
	}
}

// Tag returns a short stable label for err, suitable for metrics and for
// the UI to pick an error presentation.
func Tag(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
