// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for groups and
// their members.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a group or member is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Usage:
//
//	g := &domain.GroupChat{Name: "Weekend plans", Settings: domain.DefaultGroupSettings()}
//	if err := repo.CreateGroup(ctx, db, g); err != nil {
//	    // handle DB failure
//	}
//	got, err := repo.GetGroup(ctx, db, g.ID)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // handle missing
//	}
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

func membersInJoinOrder(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at ASC, id ASC")
}

// CreateGroup inserts g together with its members. A missing ID is
// replaced by a random UUID and member rows inherit the group ID.
func CreateGroup(ctx context.Context, db *gorm.DB, g *domain.GroupChat) error {
	now := time.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt, g.UpdatedAt = now, now
	for i := range g.Members {
		g.Members[i].GroupID = g.ID
		if g.Members[i].JoinedAt.IsZero() {
			g.Members[i].JoinedAt = now
		}
	}
	return db.WithContext(ctx).Create(g).Error
}

// GetGroup fetches a group by ID with its members (inactive included) in
// join order, or ErrNotFound.
func GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.GroupChat, error) {
	var g domain.GroupChat
	err := db.WithContext(ctx).
		Preload("Members", membersInJoinOrder).
		Where("id = ?", id).
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CountGroups returns the total number of groups.
func CountGroups(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.GroupChat{}).Count(&total).Error
	return total, err
}

// ListGroupsPage returns a page of groups ordered by most recent activity.
func ListGroupsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.GroupChat, error) {
	var out []domain.GroupChat
	err := db.WithContext(ctx).
		Preload("Members", membersInJoinOrder).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateGroup persists name, description and settings of a group. Zero
// values are written as well. Returns ErrNotFound when no row matches.
func UpdateGroup(ctx context.Context, db *gorm.DB, id, name, description string, s domain.GroupSettings) error {
	res := db.WithContext(ctx).
		Model(&domain.GroupChat{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":                     name,
			"description":              description,
			"settings_reply_mode":      string(s.ReplyMode),
			"settings_max_concurrent":  s.MaxConcurrent,
			"settings_reply_delay_ms":  s.ReplyDelayMS,
			"settings_system_prompt":   s.SystemPrompt,
			"settings_history_turns":   s.HistoryTurns,
			"settings_allow_all_reply": s.AllowAllReply,
			"updated_at":               time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchGroup records the latest transcript summary on the group row.
func TouchGroup(ctx context.Context, db *gorm.DB, id, lastMessage string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.GroupChat{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message":    lastMessage,
			"last_message_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group with its members, transcript, reactions and
// idempotency records in one transaction.
func DeleteGroup(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries := tx.Model(&domain.TranscriptEntry{}).Select("id").Where("group_id = ?", id)
		if err := tx.Where("entry_id IN (?)", entries).Delete(&domain.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&domain.TranscriptEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&domain.GroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.GroupChat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpsertMember inserts m or, when (group_id, id) already exists,
// reactivates it with the new name, provider and role.
func UpsertMember(ctx context.Context, db *gorm.DB, m *domain.GroupMember) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "provider_id", "role", "active", "joined_at"}),
		}).
		Create(m).Error
}

// SetMemberActive flips the active flag of one member. Returns ErrNotFound
// when no such member exists.
func SetMemberActive(ctx context.Context, db *gorm.DB, groupID, memberID string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ? AND id = ?", groupID, memberID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
