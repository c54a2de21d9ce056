package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

func TestReactions_CreateDuplicateListDelete(t *testing.T) {
	db := newTestDB(t, &domain.TranscriptEntry{}, &domain.Reaction{})
	ctx := context.Background()

	e := userEntry("hello")
	if err := AppendEntries(ctx, db, "g1", e); err != nil {
		t.Fatalf("append: %v", err)
	}

	r, err := CreateReaction(ctx, db, e.ID, "u1", "👍")
	if err != nil || r.ID == "" {
		t.Fatalf("CreateReaction = %+v, %v", r, err)
	}
	if _, err := CreateReaction(ctx, db, e.ID, "u1", "👍"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := CreateReaction(ctx, db, e.ID, "u2", "👍"); err != nil {
		t.Fatalf("second user: %v", err)
	}
	if _, err := CreateReaction(ctx, db, e.ID, "u1", "🎉"); err != nil {
		t.Fatalf("second emoji: %v", err)
	}

	list, err := ListReactions(ctx, db, e.ID)
	if err != nil || len(list) != 3 {
		t.Fatalf("ListReactions = %d, %v", len(list), err)
	}

	counts, err := ReactionCounts(ctx, db, []string{e.ID, "other"})
	if err != nil {
		t.Fatalf("ReactionCounts: %v", err)
	}
	if counts[e.ID]["👍"] != 2 || counts[e.ID]["🎉"] != 1 || counts["other"] != nil {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if empty, err := ReactionCounts(ctx, db, nil); err != nil || len(empty) != 0 {
		t.Fatalf("empty ids = %+v, %v", empty, err)
	}

	if err := DeleteReaction(ctx, db, e.ID, "u1", "👍"); err != nil {
		t.Fatalf("DeleteReaction: %v", err)
	}
	if err := DeleteReaction(ctx, db, e.ID, "u1", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
