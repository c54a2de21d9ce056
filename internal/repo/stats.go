// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer and for the
// per-group statistics endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// GroupsStats returns the total number of groups and the greatest UpdatedAt
// among them. With no groups, count is 0 and maxUpdatedAt is nil.
func GroupsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.GroupChat{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// EntriesStats returns the number of transcript entries of a group and the
// greatest UpdatedAt among them. With no entries, count is 0 and
// maxUpdatedAt is nil.
func EntriesStats(ctx context.Context, db *gorm.DB, groupID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.TranscriptEntry{}).Where("group_id = ?", groupID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// SenderCount is the number of text entries one sender authored.
type SenderCount struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Entries    int64  `json:"entries"`
	Errors     int64  `json:"errors"`
}

// SenderStats aggregates a group's text entries per sender, most active
// first.
func SenderStats(ctx context.Context, db *gorm.DB, groupID string) ([]SenderCount, error) {
	var out []SenderCount
	err := db.WithContext(ctx).
		Model(&domain.TranscriptEntry{}).
		Select("sender_id, MAX(sender_name) AS sender_name, COUNT(*) AS entries, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS errors", domain.StatusError).
		Where("group_id = ? AND kind = ?", groupID, domain.EntryText).
		Group("sender_id").
		Order("entries DESC, sender_id ASC").
		Scan(&out).Error
	return out, err
}
