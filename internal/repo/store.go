package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Store adapts the repository free functions to the method set expected
// by the services layer.
type Store struct{}

func (Store) CreateGroup(ctx context.Context, db *gorm.DB, g *domain.GroupChat) error {
	return CreateGroup(ctx, db, g)
}

func (Store) GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.GroupChat, error) {
	return GetGroup(ctx, db, id)
}

func (Store) CountGroups(ctx context.Context, db *gorm.DB) (int64, error) {
	return CountGroups(ctx, db)
}

func (Store) ListGroupsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.GroupChat, error) {
	return ListGroupsPage(ctx, db, offset, limit)
}

func (Store) UpdateGroup(ctx context.Context, db *gorm.DB, id, name, description string, s domain.GroupSettings) error {
	return UpdateGroup(ctx, db, id, name, description, s)
}

func (Store) TouchGroup(ctx context.Context, db *gorm.DB, id, lastMessage string, at time.Time) error {
	return TouchGroup(ctx, db, id, lastMessage, at)
}

func (Store) DeleteGroup(ctx context.Context, db *gorm.DB, id string) error {
	return DeleteGroup(ctx, db, id)
}

func (Store) UpsertMember(ctx context.Context, db *gorm.DB, m *domain.GroupMember) error {
	return UpsertMember(ctx, db, m)
}

func (Store) SetMemberActive(ctx context.Context, db *gorm.DB, groupID, memberID string, active bool) error {
	return SetMemberActive(ctx, db, groupID, memberID, active)
}

func (Store) AppendEntries(ctx context.Context, db *gorm.DB, groupID string, entries ...*domain.TranscriptEntry) error {
	return AppendEntries(ctx, db, groupID, entries...)
}

func (Store) GetEntry(ctx context.Context, db *gorm.DB, groupID, id string) (*domain.TranscriptEntry, error) {
	return GetEntry(ctx, db, groupID, id)
}

func (Store) UpdateEntry(ctx context.Context, db *gorm.DB, e *domain.TranscriptEntry) error {
	return UpdateEntry(ctx, db, e)
}

func (Store) CountEntries(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	return CountEntries(ctx, db, groupID)
}

func (Store) ListEntriesPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.TranscriptEntry, error) {
	return ListEntriesPage(ctx, db, groupID, offset, limit)
}

func (Store) ListHistoryWindow(ctx context.Context, db *gorm.DB, groupID string, beforeSeq int64, userTurns int) ([]domain.TranscriptEntry, error) {
	return ListHistoryWindow(ctx, db, groupID, beforeSeq, userTurns)
}

func (Store) ListReplies(ctx context.Context, db *gorm.DB, groupID, userEntryID string) ([]domain.TranscriptEntry, error) {
	return ListReplies(ctx, db, groupID, userEntryID)
}

func (Store) ListEntries(ctx context.Context, db *gorm.DB, groupID string) ([]domain.TranscriptEntry, error) {
	return ListEntries(ctx, db, groupID)
}

func (Store) FailPendingEntries(ctx context.Context, db *gorm.DB, marker string) (int64, error) {
	return FailPendingEntries(ctx, db, marker)
}

func (Store) GroupsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return GroupsStats(ctx, db)
}

func (Store) EntriesStats(ctx context.Context, db *gorm.DB, groupID string) (int64, *time.Time, error) {
	return EntriesStats(ctx, db, groupID)
}

func (Store) SenderStats(ctx context.Context, db *gorm.DB, groupID string) ([]SenderCount, error) {
	return SenderStats(ctx, db, groupID)
}

func (Store) GetIdempotency(ctx context.Context, db *gorm.DB, userID, groupID, key string, now time.Time) (*domain.Idempotency, error) {
	return GetIdempotency(ctx, db, userID, groupID, key, now)
}

func (Store) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, groupID, key, entryID, sessionID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return CreateIdempotency(ctx, db, userID, groupID, key, entryID, sessionID, status, ttl)
}
