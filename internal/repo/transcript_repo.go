// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for transcript
// entries.
//
// Entries are ordered by a per-group sequence number assigned on append.
// Callers appending concurrently to the same group must serialize the
// appends themselves; the repository only guarantees that one call to
// AppendEntries assigns consecutive numbers.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// AppendEntries inserts entries at the end of a group's transcript in one
// transaction. IDs, timestamps and Seq are filled in place.
func AppendEntries(ctx context.Context, db *gorm.DB, groupID string, entries ...*domain.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&domain.TranscriptEntry{}).
			Where("group_id = ?", groupID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, e := range entries {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			e.GroupID = groupID
			e.Seq = last + int64(i) + 1
			if e.Kind == "" {
				e.Kind = domain.EntryText
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			e.UpdatedAt = now
			if err := tx.Create(e).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetEntry fetches one entry of a group, or ErrNotFound.
func GetEntry(ctx context.Context, db *gorm.DB, groupID, id string) (*domain.TranscriptEntry, error) {
	var e domain.TranscriptEntry
	err := db.WithContext(ctx).
		Where("group_id = ? AND id = ?", groupID, id).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEntry fetches an entry by id regardless of group, or ErrNotFound.
func FindEntry(ctx context.Context, db *gorm.DB, id string) (*domain.TranscriptEntry, error) {
	var e domain.TranscriptEntry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEntry writes the mutable columns of e (content, status, metadata).
// Returns ErrNotFound when the entry no longer exists.
func UpdateEntry(ctx context.Context, db *gorm.DB, e *domain.TranscriptEntry) error {
	e.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.TranscriptEntry{}).
		Where("id = ?", e.ID).
		Select("content", "status", "metadata", "updated_at").
		Updates(e)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntries uses a raw COUNT so a missing table surfaces as an error.
func CountEntries(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM transcript_entries WHERE group_id = ?", groupID).
		Scan(&total).Error
	return total, err
}

// ListEntriesPage returns a paginated slice ordered by Seq ascending.
func ListEntriesPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListHistoryWindow returns the text entries with Seq < beforeSeq that
// start at the userTurns-th most recent user entry, in Seq order. The
// window is bounded by user turns, never by row count, so turns with many
// repliers do not crowd older user messages out.
func ListHistoryWindow(ctx context.Context, db *gorm.DB, groupID string, beforeSeq int64, userTurns int) ([]domain.TranscriptEntry, error) {
	if userTurns <= 0 {
		return nil, nil
	}
	var seqs []int64
	err := db.WithContext(ctx).Model(&domain.TranscriptEntry{}).
		Where("group_id = ? AND seq < ? AND kind = ? AND sender_kind = ?", groupID, beforeSeq, domain.EntryText, domain.SenderUser).
		Order("seq DESC").
		Limit(userTurns).
		Pluck("seq", &seqs).Error
	if err != nil || len(seqs) == 0 {
		return nil, err
	}

	var out []domain.TranscriptEntry
	err = db.WithContext(ctx).
		Where("group_id = ? AND seq >= ? AND seq < ? AND kind = ?", groupID, seqs[len(seqs)-1], beforeSeq, domain.EntryText).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// ListReplies returns the AI entries answering userEntryID, in Seq order.
func ListReplies(ctx context.Context, db *gorm.DB, groupID, userEntryID string) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	err := db.WithContext(ctx).
		Where("group_id = ? AND reply_to = ?", groupID, userEntryID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// ListEntries returns the full transcript of a group, in Seq order.
func ListEntries(ctx context.Context, db *gorm.DB, groupID string) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// FailPendingEntries marks every non-terminal AI entry as errored. It is
// run at startup so replies interrupted by a restart do not stay pending.
func FailPendingEntries(ctx context.Context, db *gorm.DB, marker string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.TranscriptEntry{}).
		Where("sender_kind = ? AND status IN ?", domain.SenderAI,
			[]domain.ReplyStatus{domain.StatusPending, domain.StatusInProgress}).
		Updates(map[string]any{
			"status":     domain.StatusError,
			"content":    marker,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
