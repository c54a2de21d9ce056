// Package services – ReactionService
//
// This file implements the ReactionService, which governs how users leave
// emoji reactions on transcript entries. It enforces business rules (entry
// existence, text entries only, one reaction per user, entry and emoji)
// and persists reactions in the database. Service-level errors
// (ErrInvalidReaction, ErrEntryNotFound, ErrDuplicateReaction,
// ErrReactionNotFound) are returned for predictable cases so handlers can
// map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
)

// maxEmojiRunes bounds a reaction; flags and ZWJ sequences span several runes.
const maxEmojiRunes = 16

// ReactionService implements the use-cases around entry reactions.
type ReactionService struct {
	// DB is the database handle used for all reaction operations.
	DB *gorm.DB
}

// ReactionSummary is the reaction state of one entry.
type ReactionSummary struct {
	EntryID   string            `json:"entry_id"`
	Counts    map[string]int    `json:"counts"`
	Reactions []domain.Reaction `json:"reactions"`
}

// Add records emoji on entryID on behalf of userID.
//
// Semantics and validation:
//   - emoji must be a short run of symbols; otherwise ErrInvalidReaction.
//   - entryID must exist and be a text entry; otherwise ErrEntryNotFound.
//   - A user leaves each emoji at most once per entry; a repeat yields
//     ErrDuplicateReaction.
func (s *ReactionService) Add(ctx context.Context, userID, entryID, emoji string) (*domain.Reaction, error) {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}
	var out *domain.Reaction
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := repo.FindEntry(ctx, tx, entryID)
		if err != nil {
			if isNotFound(err) {
				return ErrEntryNotFound
			}
			return err
		}
		if e.Kind != domain.EntryText {
			return ErrEntryNotFound
		}
		r, err := repo.CreateReaction(ctx, tx, entryID, userID, emoji)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrDuplicateReaction
			}
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// Remove deletes one reaction left by userID.
func (s *ReactionService) Remove(ctx context.Context, userID, entryID, emoji string) error {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return err
	}
	if err := repo.DeleteReaction(ctx, s.DB, entryID, userID, emoji); err != nil {
		if isNotFound(err) {
			return ErrReactionNotFound
		}
		return err
	}
	return nil
}

// List returns the reactions of an entry with per-emoji counts.
func (s *ReactionService) List(ctx context.Context, entryID string) (*ReactionSummary, error) {
	if _, err := repo.FindEntry(ctx, s.DB, entryID); err != nil {
		if isNotFound(err) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	rs, err := repo.ListReactions(ctx, s.DB, entryID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range rs {
		counts[r.Emoji]++
	}
	return &ReactionSummary{EntryID: entryID, Counts: counts, Reactions: rs}, nil
}

// Counts returns emoji counts for a page of entries.
func (s *ReactionService) Counts(ctx context.Context, entryIDs []string) (map[string]map[string]int, error) {
	return repo.ReactionCounts(ctx, s.DB, entryIDs)
}

// normalizeEmoji trims emoji and rejects anything that reads as text.
func normalizeEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return "", ErrInvalidReaction
	}
	for _, r := range emoji {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return "", ErrInvalidReaction
		}
	}
	return emoji, nil
}
