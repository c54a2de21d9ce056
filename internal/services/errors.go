// Package services defines the business logic for group chats, their
// members, reply turns and reactions. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import "errors"

var (
	// ErrGroupNotFound indicates that the requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrEntryNotFound indicates that the requested transcript entry does
	// not exist in the group.
	ErrEntryNotFound = errors.New("message not found")

	// ErrNoProviders is returned synchronously when a turn would have no
	// AI member to answer it.
	ErrNoProviders = errors.New("group has no active AI members")

	// ErrProviderNotConfigured is returned when a provider id is not in the
	// provider catalog.
	ErrProviderNotConfigured = errors.New("provider not configured")

	// ErrMemberExists is returned when adding an AI member that is already
	// active in the group.
	ErrMemberExists = errors.New("member already in group")

	// ErrMemberNotFound indicates that the member does not exist or is no
	// longer active.
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidInput wraps every validation failure; the wrapping message
	// names the offending field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotRegenerable is returned when a reply cannot be regenerated,
	// either because the target is not a user message or because the
	// provider's answer is still streaming.
	ErrNotRegenerable = errors.New("reply cannot be regenerated")

	// ErrSessionNotFound indicates that no in-flight session has the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateReaction is returned when the same user leaves the same
	// emoji twice on one entry.
	ErrDuplicateReaction = errors.New("reaction already exists")

	// ErrReactionNotFound is returned when removing a reaction that was
	// never left.
	ErrReactionNotFound = errors.New("reaction not found")

	// ErrInvalidReaction is returned for an empty or non-emoji reaction.
	ErrInvalidReaction = errors.New("invalid reaction")
)
