package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
)

func seedEntries(t *testing.T, svc *ReactionService) (text, system *domain.TranscriptEntry) {
	t.Helper()
	ctx := context.Background()
	g := &domain.GroupChat{Name: "g", Settings: domain.DefaultGroupSettings()}
	if err := repo.CreateGroup(ctx, svc.DB, g); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	text = &domain.TranscriptEntry{SenderID: "user", SenderKind: domain.SenderUser, Content: "hi"}
	system = &domain.TranscriptEntry{SenderID: "system", SenderKind: domain.SenderSystem, Kind: domain.EntryJoin, Content: "joined"}
	if err := repo.AppendEntries(ctx, svc.DB, g.ID, text, system); err != nil {
		t.Fatalf("seed entries: %v", err)
	}
	return text, system
}

func TestReaction_Add_InvalidEmoji(t *testing.T) {
	svc := &ReactionService{DB: newTestDB(t)}
	for _, emoji := range []string{"", "  ", "ok", "👍 👍", "1"} {
		if _, err := svc.Add(context.Background(), "u1", "e1", emoji); !errors.Is(err, ErrInvalidReaction) {
			t.Fatalf("emoji %q: expected ErrInvalidReaction, got %v", emoji, err)
		}
	}
}

func TestReaction_Add_EntryNotFound(t *testing.T) {
	svc := &ReactionService{DB: newTestDB(t)}
	_, err := svc.Add(context.Background(), "u1", "missing", "👍")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestReaction_Add_SystemEntryRejected(t *testing.T) {
	svc := &ReactionService{DB: newTestDB(t)}
	_, system := seedEntries(t, svc)
	_, err := svc.Add(context.Background(), "u1", system.ID, "👍")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for system entry, got %v", err)
	}
}

func TestReaction_AddDuplicateListRemove(t *testing.T) {
	svc := &ReactionService{DB: newTestDB(t)}
	text, _ := seedEntries(t, svc)
	ctx := context.Background()

	r, err := svc.Add(ctx, "u1", text.ID, " 👍 ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Emoji != "👍" || r.EntryID != text.ID {
		t.Fatalf("unexpected reaction: %+v", r)
	}
	if _, err := svc.Add(ctx, "u1", text.ID, "👍"); !errors.Is(err, ErrDuplicateReaction) {
		t.Fatalf("expected ErrDuplicateReaction, got %v", err)
	}
	if _, err := svc.Add(ctx, "u2", text.ID, "👍"); err != nil {
		t.Fatalf("add by second user: %v", err)
	}
	if _, err := svc.Add(ctx, "u1", text.ID, "🎉"); err != nil {
		t.Fatalf("add second emoji: %v", err)
	}

	sum, err := svc.List(ctx, text.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if sum.Counts["👍"] != 2 || sum.Counts["🎉"] != 1 || len(sum.Reactions) != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	counts, err := svc.Counts(ctx, []string{text.ID})
	if err != nil || counts[text.ID]["👍"] != 2 {
		t.Fatalf("counts: %v %v", counts, err)
	}

	if err := svc.Remove(ctx, "u1", text.ID, "👍"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.Remove(ctx, "u1", text.ID, "👍"); !errors.Is(err, ErrReactionNotFound) {
		t.Fatalf("expected ErrReactionNotFound, got %v", err)
	}
	if _, err := svc.List(ctx, "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}
