// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Reaction
// model.
//
// Error semantics:
//   - A repeated (entry_id, user_id, emoji) triple relies on the database
//     unique constraint and is returned as ErrDuplicate.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// CreateReaction inserts a reaction for the given entry and user.
func CreateReaction(ctx context.Context, db *gorm.DB, entryID, userID, emoji string) (*domain.Reaction, error) {
	r := &domain.Reaction{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return r, nil
}

// DeleteReaction removes one reaction. Returns ErrNotFound when it does
// not exist.
func DeleteReaction(ctx context.Context, db *gorm.DB, entryID, userID, emoji string) error {
	res := db.WithContext(ctx).
		Where("entry_id = ? AND user_id = ? AND emoji = ?", entryID, userID, emoji).
		Delete(&domain.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReactions returns the reactions of an entry, oldest first.
func ListReactions(ctx context.Context, db *gorm.DB, entryID string) ([]domain.Reaction, error) {
	var out []domain.Reaction
	err := db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ReactionCounts returns emoji counts keyed by entry id for the given
// entries. Entries without reactions are absent from the result.
func ReactionCounts(ctx context.Context, db *gorm.DB, entryIDs []string) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int)
	if len(entryIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		EntryID string
		Emoji   string
		N       int
	}
	err := db.WithContext(ctx).
		Model(&domain.Reaction{}).
		Select("entry_id, emoji, COUNT(*) AS n").
		Where("entry_id IN ?", entryIDs).
		Group("entry_id, emoji").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if out[r.EntryID] == nil {
			out[r.EntryID] = make(map[string]int)
		}
		out[r.EntryID][r.Emoji] = r.N
	}
	return out, nil
}
