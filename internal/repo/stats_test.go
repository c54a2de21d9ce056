package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{&domain.GroupChat{}, &domain.GroupMember{}, &domain.TranscriptEntry{}, &domain.Reaction{}, &domain.Idempotency{}}
}

func TestGroupsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := GroupsStats(context.Background(), db); err == nil {
		t.Fatalf("expected error due to missing groups table")
	}
}

func TestGroupsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.GroupChat{})
	count, maxAt, err := GroupsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("GroupsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestGroupsStats_Max(t *testing.T) {
	db := newTestDB(t, &domain.GroupChat{})
	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	for i, at := range []time.Time{t1, t2} {
		g := &domain.GroupChat{ID: fmt.Sprintf("g%d", i), Name: "x", Settings: domain.DefaultGroupSettings(), CreatedAt: at, UpdatedAt: at}
		if err := db.Create(g).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	count, maxAt, err := GroupsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("GroupsStats: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected (2, %v), got (%d, %v)", t2, count, maxAt)
	}
}

func TestEntriesStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.TranscriptEntry{})
	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	seed := []domain.TranscriptEntry{
		{ID: "e1", GroupID: "g1", Seq: 1, SenderID: "user", SenderKind: domain.SenderUser, Content: "a", CreatedAt: t1, UpdatedAt: t1},
		{ID: "e2", GroupID: "g1", Seq: 2, SenderID: "ai_x", SenderKind: domain.SenderAI, Content: "b", CreatedAt: t2, UpdatedAt: t2},
		{ID: "e3", GroupID: "g2", Seq: 1, SenderID: "user", SenderKind: domain.SenderUser, Content: "c", CreatedAt: t3, UpdatedAt: t3},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, maxAt, err := EntriesStats(context.Background(), db, "g1")
	if err != nil {
		t.Fatalf("EntriesStats: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected (2, %v), got (%d, %v)", t2, count, maxAt)
	}

	count, maxAt, err = EntriesStats(context.Background(), db, "none")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", count, maxAt, err)
	}
}

func TestSenderStats(t *testing.T) {
	db := newTestDB(t, &domain.TranscriptEntry{})
	ctx := context.Background()
	err := AppendEntries(ctx, db, "g1",
		&domain.TranscriptEntry{SenderID: "user", SenderName: "You", SenderKind: domain.SenderUser, Content: "q1"},
		&domain.TranscriptEntry{SenderID: "ai_a", SenderName: "A", SenderKind: domain.SenderAI, Content: "r1", Status: domain.StatusCompleted},
		&domain.TranscriptEntry{SenderID: "ai_b", SenderName: "B", SenderKind: domain.SenderAI, Content: "[error]", Status: domain.StatusError},
		&domain.TranscriptEntry{SenderID: "user", SenderName: "You", SenderKind: domain.SenderUser, Content: "q2"},
		&domain.TranscriptEntry{SenderID: "system", SenderKind: domain.SenderSystem, Kind: domain.EntryJoin, Content: "B joined"},
	)
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	got, err := SenderStats(ctx, db, "g1")
	if err != nil {
		t.Fatalf("SenderStats: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 senders, got %+v", got)
	}
	if got[0].SenderID != "user" || got[0].Entries != 2 {
		t.Fatalf("most active sender should be user with 2, got %+v", got[0])
	}
	for _, s := range got {
		if s.SenderID == "ai_b" && s.Errors != 1 {
			t.Fatalf("ai_b errors = %d", s.Errors)
		}
		if s.SenderID == "ai_a" && s.Errors != 0 {
			t.Fatalf("ai_a errors = %d", s.Errors)
		}
	}
}
