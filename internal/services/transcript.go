package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
	"github.com/tbourn/go-groupchat-backend/internal/search"
)

// GroupStats summarizes a group's transcript.
type GroupStats struct {
	GroupID   string             `json:"group_id"`
	Entries   int64              `json:"entries"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
	Senders   []repo.SenderCount `json:"senders"`
}

// ListMessages returns a page of the group's transcript in Seq order.
func (s *GroupService) ListMessages(ctx context.Context, groupID string, page, pageSize int) ([]domain.TranscriptEntry, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListMessages", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize)))
	defer span.End()

	if _, err := s.state(ctx, groupID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	total, err := s.Repo.CountEntries(ctx, s.DB, groupID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.TranscriptEntry{}, 0, nil
	}
	items, err := s.Repo.ListEntriesPage(ctx, s.DB, groupID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// EntriesVersion returns the entry count and latest update time of a
// group's transcript, used to build cache validators.
func (s *GroupService) EntriesVersion(ctx context.Context, groupID string) (int64, *time.Time, error) {
	if _, err := s.state(ctx, groupID); err != nil {
		return 0, nil, err
	}
	return s.Repo.EntriesStats(ctx, s.DB, groupID)
}

// GroupsVersion returns the group count and latest group update time.
func (s *GroupService) GroupsVersion(ctx context.Context) (int64, *time.Time, error) {
	return s.Repo.GroupsStats(ctx, s.DB)
}

// Search runs a keyword search over the group's text entries. Pending
// replies and error markers are not indexed.
func (s *GroupService) Search(ctx context.Context, groupID, query string, k int) ([]search.Result, error) {
	ctx, span := s.tracer().Start(ctx, "Search", trace.WithAttributes(
		attribute.String("group.id", groupID), attribute.Int("k", k)))
	defer span.End()

	if _, err := s.state(ctx, groupID); err != nil {
		return nil, err
	}
	entries, err := s.Repo.ListEntries(ctx, s.DB, groupID)
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(entries))
	for _, e := range entries {
		if e.Kind != domain.EntryText || e.Content == "" {
			continue
		}
		if e.SenderKind == domain.SenderAI && e.Status != domain.StatusCompleted {
			continue
		}
		docs = append(docs, search.Document{ID: e.ID, Text: e.Content})
	}
	res := search.NewIndex(docs).TopK(query, k)
	span.SetAttributes(attribute.Int("results", len(res)))
	return res, nil
}

// Stats returns per-sender counts for a group.
func (s *GroupService) Stats(ctx context.Context, groupID string) (*GroupStats, error) {
	if _, err := s.state(ctx, groupID); err != nil {
		return nil, err
	}
	n, at, err := s.Repo.EntriesStats(ctx, s.DB, groupID)
	if err != nil {
		return nil, err
	}
	senders, err := s.Repo.SenderStats(ctx, s.DB, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupStats{GroupID: groupID, Entries: n, UpdatedAt: at, Senders: senders}, nil
}
