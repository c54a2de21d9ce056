package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/coordinator"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
	"github.com/tbourn/go-groupchat-backend/internal/services"
)

type testEnv struct {
	db     *gorm.DB
	bus    *events.Bus
	svc    *services.GroupService
	h      *Handlers
	router *gin.Engine
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func echoInvoker() coordinator.Invoker {
	return coordinator.InvokerFunc(func(_ context.Context, req coordinator.Request, onDelta func(string)) (string, error) {
		text := req.Provider.ID + " says: " + req.Message
		onDelta(text)
		return text, nil
	})
}

// blockingInvoker never answers until its context ends.
func blockingInvoker() coordinator.Invoker {
	return coordinator.InvokerFunc(func(ctx context.Context, _ coordinator.Request, _ func(string)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func newTestEnv(t *testing.T, inv coordinator.Invoker) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	bus := events.NewBus(256)
	bus.Start(context.Background())

	catalog := config.NewCatalog([]domain.Provider{
		{ID: "alpha", Name: "Alpha", Family: "openai", Model: "m1", APIKey: "sk-alpha-0123456789"},
		{ID: "beta", Name: "Beta", Family: "anthropic", Model: "m2", APIKey: "sk-beta-0123456789"},
		{ID: "nokey", Name: "No Key", Family: "openai", Model: "m3"},
	})
	d := services.DefaultReplyDefaults()
	d.Timeout = 3 * time.Second
	d.MaxRetries = 0
	d.RetryBaseDelay = time.Millisecond
	svc := services.NewGroupService(db, repo.Store{}, catalog, coordinator.New(inv), bus, d)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		bus.Close()
	})

	h := New(ForGroupService(svc, &services.ReactionService{DB: db}, bus, catalog))
	h.KeepAlive = 50 * time.Millisecond

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, userID, groupID, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, userID, groupID, key, now)
			return err == nil, nil
		}))
	r.GET("/providers", h.ListProviders)
	g := r.Group("/groups")
	g.POST("", h.CreateGroup)
	g.GET("", h.ListGroups)
	g.GET("/:id", h.GetGroup)
	g.PATCH("/:id", h.UpdateGroup)
	g.DELETE("/:id", h.DeleteGroup)
	g.POST("/:id/members", h.AddMember)
	g.DELETE("/:id/members/:memberId", h.RemoveMember)
	g.GET("/:id/status", h.Status)
	g.GET("/:id/stats", h.Stats)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.PostMessage)
	g.POST("/:id/messages/:messageId/regenerate", h.Regenerate)
	g.GET("/:id/sessions", h.ListSessions)
	g.DELETE("/:id/sessions/:sessionId", h.CancelSession)
	g.GET("/:id/search", h.Search)
	g.GET("/:id/events", h.Events)
	m := r.Group("/messages")
	m.POST("/:id/reactions", h.AddReaction)
	m.GET("/:id/reactions", h.ListReactions)
	m.DELETE("/:id/reactions/:emoji", h.RemoveReaction)

	return &testEnv{db: db, bus: bus, svc: svc, h: h, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) createGroup(t *testing.T, providers ...string) domain.GroupChat {
	t.Helper()
	w := e.do(t, http.MethodPost, "/groups", CreateGroupRequest{Name: "Panel", Providers: providers})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.GroupChat](t, w)
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.bus.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	if got := decode[ErrorResponse](t, w); got.Code != code {
		t.Fatalf("code = %q, want %q", got.Code, code)
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 10, 25)
	if p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	p = newPagination(3, 10, 25)
	if p.HasNext {
		t.Fatalf("last page must not have next: %+v", p)
	}
	if p = newPagination(1, 10, 0); p.TotalPages != 0 || p.HasNext {
		t.Fatalf("empty pagination: %+v", p)
	}
}

func TestSanitizeContent(t *testing.T) {
	got := sanitizeContent("  hi\r\n\r\n\r\n\r\nthere \r")
	if got != "hi\n\nthere" {
		t.Fatalf("sanitizeContent = %q", got)
	}
}
