// Package handlers provides the HTTP handlers of the group chat API.
//
// Handlers are transport-thin: they validate input, call the services
// through the narrow interfaces below and translate results into HTTP
// responses, including conditional GETs and server-sent events.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/search"
	"github.com/tbourn/go-groupchat-backend/internal/services"
	"github.com/tbourn/go-groupchat-backend/internal/utils"
)

//
// Service contracts
//

// GroupService manages groups, members and the reply status board.
type GroupService interface {
	CreateGroup(ctx context.Context, in services.CreateGroupInput) (*domain.GroupChat, error)
	GetGroup(ctx context.Context, id string) (*domain.GroupChat, error)
	ListGroups(ctx context.Context, page, pageSize int) ([]domain.GroupChat, int64, error)
	GroupsVersion(ctx context.Context) (int64, *time.Time, error)
	UpdateGroup(ctx context.Context, id string, in services.UpdateGroupInput) (*domain.GroupChat, error)
	DeleteGroup(ctx context.Context, id string) error
	AddMember(ctx context.Context, groupID, providerID, name string) (*domain.GroupMember, error)
	RemoveMember(ctx context.Context, groupID, memberID string) error
	Statuses(ctx context.Context, groupID string) ([]services.MemberStatus, error)
	Stats(ctx context.Context, groupID string) (*services.GroupStats, error)
}

// TurnService dispatches user turns and manages in-flight sessions.
type TurnService interface {
	SendUserMessage(ctx context.Context, groupID, text string, opt services.SendOptions) (*services.Turn, error)
	RegenerateReply(ctx context.Context, groupID, userEntryID, providerID string) (*services.Turn, error)
	ActiveSessions(ctx context.Context, groupID string) ([]services.SessionInfo, error)
	CancelSession(ctx context.Context, groupID, sessionID string) error
}

// TranscriptService reads a group's transcript.
type TranscriptService interface {
	ListMessages(ctx context.Context, groupID string, page, pageSize int) ([]domain.TranscriptEntry, int64, error)
	EntriesVersion(ctx context.Context, groupID string) (int64, *time.Time, error)
	Search(ctx context.Context, groupID, query string, k int) ([]search.Result, error)
}

// ReactionService manages emoji reactions on transcript entries.
type ReactionService interface {
	Add(ctx context.Context, userID, entryID, emoji string) (*domain.Reaction, error)
	Remove(ctx context.Context, userID, entryID, emoji string) error
	List(ctx context.Context, entryID string) (*services.ReactionSummary, error)
	Counts(ctx context.Context, entryIDs []string) (map[string]map[string]int, error)
}

// EventSource delivers observer events of one group.
type EventSource interface {
	SubscribeGroup(groupID string, o events.Observer) func()
}

// ProviderLister exposes the provider catalog.
type ProviderLister interface {
	List() []domain.Provider
}

// Services bundles the dependencies of Handlers.
type Services struct {
	Groups     GroupService
	Turns      TurnService
	Transcript TranscriptService
	Reactions  ReactionService
	Events     EventSource
	Providers  ProviderLister
}

// ForGroupService fills the group, turn and transcript contracts from one
// GroupService.
func ForGroupService(g *services.GroupService, r ReactionService, ev EventSource, p ProviderLister) Services {
	return Services{Groups: g, Turns: g, Transcript: g, Reactions: r, Events: ev, Providers: p}
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	groups     GroupService
	turns      TurnService
	transcript TranscriptService
	reactions  ReactionService
	events     EventSource
	providers  ProviderLister

	// KeepAlive is the interval of comment frames on idle event streams.
	KeepAlive time.Duration
	// StreamBuffer is the per-stream event queue; events beyond it are dropped.
	StreamBuffer int
}

// New constructs Handlers bound to s.
func New(s Services) *Handlers {
	return &Handlers{
		groups:       s.Groups,
		turns:        s.Turns,
		transcript:   s.Transcript,
		reactions:    s.Reactions,
		events:       s.Events,
		providers:    s.Providers,
		KeepAlive:    15 * time.Second,
		StreamBuffer: 256,
	}
}

//
// Helpers
//

// clampPagination bounds page and page_size query params.
func clampPagination(c *gin.Context, defaultPageSize int) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, 100)
}

// pathID reads a UUID route parameter, failing the request when malformed.
func pathID(c *gin.Context, param, what string) (string, bool) {
	id := c.Param(param)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return id, true
}
