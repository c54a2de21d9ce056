package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/services"
)

func TestCreateGroup_Created(t *testing.T) {
	e := newTestEnv(t, echoInvoker())

	w := e.do(t, http.MethodPost, "/groups", CreateGroupRequest{Name: " Panel ", Providers: []string{"alpha", "beta"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	g := decode[domain.GroupChat](t, w)
	if g.Name != "Panel" {
		t.Fatalf("name = %q", g.Name)
	}
	if len(g.Members) != 3 {
		t.Fatalf("members = %d, want user + 2 AI", len(g.Members))
	}
	if loc := w.Header().Get("Location"); loc != "/groups/"+g.ID {
		t.Fatalf("Location = %q", loc)
	}
}

func TestCreateGroup_Validation(t *testing.T) {
	e := newTestEnv(t, echoInvoker())

	w := e.do(t, http.MethodPost, "/groups", map[string]any{"name": "x"})
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = e.do(t, http.MethodPost, "/groups", CreateGroupRequest{Providers: []string{"ghost"}})
	expectError(t, w, http.StatusUnprocessableEntity, ErrCodeProviderUnknown)

	bad := domain.DefaultGroupSettings()
	bad.ReplyMode = "round-robin"
	w = e.do(t, http.MethodPost, "/groups", CreateGroupRequest{Providers: []string{"alpha"}, Settings: &bad})
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListGroups_PaginationAndETag(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	for i := 0; i < 3; i++ {
		e.createGroup(t, "alpha")
	}

	w := e.do(t, http.MethodGet, "/groups?page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[ListGroupsResponse](t, w)
	if len(resp.Groups) != 2 || resp.Pagination.Total != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp.Pagination)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"groups:3:`) {
		t.Fatalf("ETag = %q", etag)
	}

	w = e.do(t, http.MethodGet, "/groups", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d, want 304", w.Code)
	}

	e.createGroup(t, "beta")
	w = e.do(t, http.MethodGet, "/groups", nil, "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("stale ETag must miss, got %d", w.Code)
	}
}

func TestGetGroup(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	g := e.createGroup(t, "alpha")

	w := e.do(t, http.MethodGet, "/groups/"+g.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[domain.GroupChat](t, w); got.ID != g.ID {
		t.Fatalf("id = %q", got.ID)
	}

	expectError(t, e.do(t, http.MethodGet, "/groups/not-a-uuid", nil), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, e.do(t, http.MethodGet, "/groups/"+uuid.NewString(), nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestUpdateGroup(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	g := e.createGroup(t, "alpha")

	expectError(t, e.do(t, http.MethodPatch, "/groups/"+g.ID, map[string]any{}), http.StatusBadRequest, ErrCodeBadRequest)

	name := "Renamed"
	st := domain.DefaultGroupSettings()
	st.ReplyMode = domain.ModeSequential
	st.ReplyDelayMS = 10
	w := e.do(t, http.MethodPatch, "/groups/"+g.ID, UpdateGroupRequest{Name: &name, Settings: &st})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[domain.GroupChat](t, w)
	if got.Name != "Renamed" || got.Settings.ReplyMode != domain.ModeSequential {
		t.Fatalf("update not applied: %+v", got)
	}

	st.MaxConcurrent = 0
	expectError(t, e.do(t, http.MethodPatch, "/groups/"+g.ID, UpdateGroupRequest{Settings: &st}), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestDeleteGroup(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	g := e.createGroup(t, "alpha")

	if w := e.do(t, http.MethodDelete, "/groups/"+g.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	expectError(t, e.do(t, http.MethodGet, "/groups/"+g.ID, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, e.do(t, http.MethodDelete, "/groups/"+g.ID, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestMembers_AddAndRemove(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	g := e.createGroup(t, "alpha")
	path := "/groups/" + g.ID + "/members"

	w := e.do(t, http.MethodPost, path, AddMemberRequest{ProviderID: "beta"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d: %s", w.Code, w.Body.String())
	}
	m := decode[domain.GroupMember](t, w)
	if m.ID != domain.AIMemberID("beta") || m.Name != "Beta" {
		t.Fatalf("member = %+v", m)
	}

	expectError(t, e.do(t, http.MethodPost, path, AddMemberRequest{ProviderID: "beta"}), http.StatusConflict, ErrCodeMemberExists)
	expectError(t, e.do(t, http.MethodPost, path, AddMemberRequest{ProviderID: "ghost"}), http.StatusUnprocessableEntity, ErrCodeProviderUnknown)
	expectError(t, e.do(t, http.MethodPost, path, map[string]any{}), http.StatusBadRequest, ErrCodeBadRequest)

	if w := e.do(t, http.MethodDelete, path+"/"+m.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("remove = %d", w.Code)
	}
	expectError(t, e.do(t, http.MethodDelete, path+"/"+m.ID, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, e.do(t, http.MethodDelete, path+"/"+domain.UserMemberID, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestStatusAndStats(t *testing.T) {
	e := newTestEnv(t, echoInvoker())
	g := e.createGroup(t, "alpha", "beta")

	w := e.do(t, http.MethodGet, "/groups/"+g.ID+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[StatusResponse](t, w)
	if st.GroupID != g.ID || len(st.Members) != 2 {
		t.Fatalf("status board = %+v", st)
	}

	w = e.do(t, http.MethodGet, "/groups/"+g.ID+"/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	stats := decode[services.GroupStats](t, w)
	if stats.Entries < 1 {
		t.Fatalf("the creation entry must be counted: %+v", stats)
	}
	expectError(t, e.do(t, http.MethodGet, "/groups/"+uuid.NewString()+"/status", nil), http.StatusNotFound, ErrCodeNotFound)
}
