// Package handlers defines the error codes returned by the group chat API.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// domain codes name the business rule that rejected the request. Clients
// branch on the code, never on the message.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
	"github.com/tbourn/go-groupchat-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeTimeout          = "timeout"
	ErrCodeClientClosed     = "client_closed_request"

	// Domain-specific:
	ErrCodeNoProviders       = "no_providers"
	ErrCodeProviderUnknown   = "provider_not_configured"
	ErrCodeMemberExists      = "member_exists"
	ErrCodeNotRegenerable    = "not_regenerable"
	ErrCodeDuplicateReaction = "duplicate_reaction"
)

// serviceFailure maps a service error onto a status and code. The message
// of 4xx errors is the service error text, which never carries internals.
func serviceFailure(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, ErrCodeInternal
	switch {
	case errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, services.ErrEntryNotFound),
		errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrReactionNotFound):
		status, code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidReaction):
		status, code = http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrNoProviders):
		status, code = http.StatusUnprocessableEntity, ErrCodeNoProviders
	case errors.Is(err, services.ErrProviderNotConfigured):
		status, code = http.StatusUnprocessableEntity, ErrCodeProviderUnknown
	case errors.Is(err, services.ErrMemberExists):
		status, code = http.StatusConflict, ErrCodeMemberExists
	case errors.Is(err, services.ErrNotRegenerable):
		status, code = http.StatusConflict, ErrCodeNotRegenerable
	case errors.Is(err, services.ErrDuplicateReaction):
		status, code = http.StatusConflict, ErrCodeDuplicateReaction
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		// The client went away; only the access log sees this status.
		status, code = 499, ErrCodeClientClosed
	}
	msg := err.Error()
	switch {
	case status == http.StatusGatewayTimeout:
		msg = "request timed out"
	case status >= http.StatusInternalServerError:
		middleware.LoggerFrom(c).Error().Err(err).Msg("service error")
		msg = "internal server error"
	}
	fail(c, status, code, msg)
}
