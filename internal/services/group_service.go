// Package services – GroupService
//
// This file implements GroupService, the orchestrator that owns every group
// chat: its members and settings, the per-member reply status board and the
// in-flight reply sessions. All group mutations go through one in-memory
// map keyed by group id; each mutation is persisted through GroupRepo and
// published on the event bus.
//
// Reply turns (turn.go) append the user entry, one placeholder entry per
// AI member, and hand the providers to the coordinator. The coordinator's
// notifications are translated into transcript updates, status changes and
// bus events by a per-turn listener.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the group id and, for turns, the session id.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/coordinator"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
)

// GroupRepo defines the repository contract required by GroupService.
type GroupRepo interface {
	CreateGroup(ctx context.Context, db *gorm.DB, g *domain.GroupChat) error
	GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.GroupChat, error)
	CountGroups(ctx context.Context, db *gorm.DB) (int64, error)
	ListGroupsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.GroupChat, error)
	UpdateGroup(ctx context.Context, db *gorm.DB, id, name, description string, s domain.GroupSettings) error
	TouchGroup(ctx context.Context, db *gorm.DB, id, lastMessage string, at time.Time) error
	DeleteGroup(ctx context.Context, db *gorm.DB, id string) error

	UpsertMember(ctx context.Context, db *gorm.DB, m *domain.GroupMember) error
	SetMemberActive(ctx context.Context, db *gorm.DB, groupID, memberID string, active bool) error

	AppendEntries(ctx context.Context, db *gorm.DB, groupID string, entries ...*domain.TranscriptEntry) error
	GetEntry(ctx context.Context, db *gorm.DB, groupID, id string) (*domain.TranscriptEntry, error)
	UpdateEntry(ctx context.Context, db *gorm.DB, e *domain.TranscriptEntry) error
	CountEntries(ctx context.Context, db *gorm.DB, groupID string) (int64, error)
	ListEntriesPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.TranscriptEntry, error)
	ListHistoryWindow(ctx context.Context, db *gorm.DB, groupID string, beforeSeq int64, userTurns int) ([]domain.TranscriptEntry, error)
	ListReplies(ctx context.Context, db *gorm.DB, groupID, userEntryID string) ([]domain.TranscriptEntry, error)
	ListEntries(ctx context.Context, db *gorm.DB, groupID string) ([]domain.TranscriptEntry, error)
	FailPendingEntries(ctx context.Context, db *gorm.DB, marker string) (int64, error)

	GroupsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)
	EntriesStats(ctx context.Context, db *gorm.DB, groupID string) (int64, *time.Time, error)
	SenderStats(ctx context.Context, db *gorm.DB, groupID string) ([]repo.SenderCount, error)

	GetIdempotency(ctx context.Context, db *gorm.DB, userID, groupID, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID, groupID, key, entryID, sessionID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// ProviderCatalog is the read-only provider configuration.
type ProviderCatalog interface {
	Provider(id string) (domain.Provider, bool)
	List() []domain.Provider
}

// ReplyDefaults are the dispatch parameters not stored per group.
type ReplyDefaults struct {
	Timeout         time.Duration
	LateGrace       time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	MaxConcurrent   int
	RetryAuth       bool
	HistoryTurns    int
	MaxMessageRunes int
	ProgressFlush   time.Duration // minimum interval between streaming writes of one entry
	IdempotencyTTL  time.Duration
}

// DefaultReplyDefaults mirrors the configuration defaults.
func DefaultReplyDefaults() ReplyDefaults {
	return ReplyDefaults{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  time.Second,
		MaxConcurrent:   5,
		RetryAuth:       true,
		HistoryTurns:    20,
		MaxMessageRunes: 8000,
		ProgressFlush:   250 * time.Millisecond,
		IdempotencyTTL:  24 * time.Hour,
	}
}

// MemberStatus is one AI member's row on a group's reply status board.
type MemberStatus struct {
	MemberID   string             `json:"member_id"`
	ProviderID string             `json:"provider_id"`
	Name       string             `json:"name"`
	Status     domain.ReplyStatus `json:"status"`
	SessionID  string             `json:"session_id,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// CreateGroupInput describes a new group.
type CreateGroupInput struct {
	Name        string
	Description string
	ProviderIDs []string
	Settings    *domain.GroupSettings
}

// UpdateGroupInput carries a partial group update; nil fields are kept.
type UpdateGroupInput struct {
	Name        *string
	Description *string
	Settings    *domain.GroupSettings
}

type groupState struct {
	mu       sync.Mutex // serializes transcript appends and group mutations
	group    domain.GroupChat
	sessions map[string]*Turn

	statusMu sync.Mutex
	status   map[string]*MemberStatus // keyed by provider id
}

// GroupService owns the lifecycle of group chats and their reply turns.
// It is constructed once by the composition root and safe for concurrent
// use.
type GroupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo GroupRepo
	// Providers resolves AI members to provider configurations.
	Providers ProviderCatalog
	// Coordinator runs reply sessions.
	Coordinator *coordinator.Coordinator
	// Bus receives every observer event.
	Bus *events.Bus
	// Defaults are the dispatch parameters applied to every turn.
	Defaults ReplyDefaults

	// GroupNameMaxLen caps stored group names by rune length.
	GroupNameMaxLen int
	// NameLocale drives casing of member names derived from provider ids.
	NameLocale language.Tag

	log zerolog.Logger

	mu     sync.RWMutex
	groups map[string]*groupState

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGroupService constructs a GroupService. Reply sessions run on a
// context owned by the service and end on Shutdown.
func NewGroupService(db *gorm.DB, r GroupRepo, catalog ProviderCatalog, coord *coordinator.Coordinator, bus *events.Bus, d ReplyDefaults) *GroupService {
	ctx, cancel := context.WithCancel(context.Background())
	if d.ProgressFlush <= 0 {
		d.ProgressFlush = 250 * time.Millisecond
	}
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	return &GroupService{
		DB:              db,
		Repo:            r,
		Providers:       catalog,
		Coordinator:     coord,
		Bus:             bus,
		Defaults:        d,
		GroupNameMaxLen: 80,
		NameLocale:      language.English,
		log:             log.With().Str("component", "group_service").Logger(),
		groups:          make(map[string]*groupState),
		baseCtx:         ctx,
		cancel:          cancel,
	}
}

const interruptedMarker = "[error] reply interrupted by a restart"

// Load prepares the service after startup: replies left pending by a
// previous process are marked as errors and every group is loaded into
// the in-memory map.
func (s *GroupService) Load(ctx context.Context) error {
	n, err := s.Repo.FailPendingEntries(ctx, s.DB, interruptedMarker)
	if err != nil {
		return fmt.Errorf("fail pending entries: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int64("entries", n).Msg("marked interrupted replies as failed")
	}

	const batch = 100
	for offset := 0; ; offset += batch {
		page, err := s.Repo.ListGroupsPage(ctx, s.DB, offset, batch)
		if err != nil {
			return fmt.Errorf("load groups: %w", err)
		}
		s.mu.Lock()
		for i := range page {
			if _, ok := s.groups[page[i].ID]; !ok {
				s.groups[page[i].ID] = newGroupState(page[i])
			}
		}
		s.mu.Unlock()
		if len(page) < batch {
			break
		}
	}
	s.mu.RLock()
	s.log.Info().Int("groups", len(s.groups)).Msg("groups loaded")
	s.mu.RUnlock()
	return nil
}

// Shutdown waits for in-flight turns until ctx ends, then cancels the
// remaining ones. Cancelled providers are resolved as errors.
func (s *GroupService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func newGroupState(g domain.GroupChat) *groupState {
	gs := &groupState{
		group:    cloneGroup(g),
		sessions: make(map[string]*Turn),
		status:   make(map[string]*MemberStatus),
	}
	for _, m := range g.AIMembers() {
		gs.status[m.ProviderID] = &MemberStatus{
			MemberID:   m.ID,
			ProviderID: m.ProviderID,
			Name:       m.Name,
			Status:     domain.StatusPending,
			UpdatedAt:  m.JoinedAt,
		}
	}
	return gs
}

func cloneGroup(g domain.GroupChat) domain.GroupChat {
	out := g
	out.Members = append([]domain.GroupMember(nil), g.Members...)
	return out
}

// state returns the in-memory state of a group, loading it on first use.
func (s *GroupService) state(ctx context.Context, id string) (*groupState, error) {
	s.mu.RLock()
	gs, ok := s.groups[id]
	s.mu.RUnlock()
	if ok {
		return gs, nil
	}

	g, err := s.Repo.GetGroup(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs, ok := s.groups[id]; ok {
		return gs, nil
	}
	gs = newGroupState(*g)
	s.groups[id] = gs
	return gs, nil
}

func (s *GroupService) tracer() trace.Tracer { return otel.Tracer("services/GroupService") }

func (s *GroupService) publish(e events.Event) {
	if s.Bus != nil {
		s.Bus.Publish(e)
	}
}

// persistCtx is used for writes that must outlive the request or session
// that triggered them.
func (s *GroupService) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.baseCtx), 10*time.Second)
}

// ----------------------------------------------------------------------------
// Groups

// CreateGroup creates a group with the user as owner and one AI member per
// provider id, then records a system entry announcing the members.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*domain.GroupChat, error) {
	ctx, span := s.tracer().Start(ctx, "CreateGroup",
		trace.WithAttributes(attribute.Int("providers", len(in.ProviderIDs))))
	defer span.End()

	name := normalizeName(in.Name)
	if name == "" {
		name = "New group"
	}
	settings := s.defaultSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	g := &domain.GroupChat{
		Name:        s.clip(name),
		Description: strings.TrimSpace(in.Description),
		Settings:    settings,
		Members: []domain.GroupMember{{
			ID:       domain.UserMemberID,
			Name:     "You",
			Kind:     domain.MemberUser,
			Role:     domain.MemberRoleOwner,
			Active:   true,
			JoinedAt: now,
		}},
	}
	seen := make(map[string]struct{}, len(in.ProviderIDs))
	var names []string
	for _, raw := range in.ProviderIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, ok := s.Providers.Provider(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, id)
		}
		g.Members = append(g.Members, domain.GroupMember{
			ID:         domain.AIMemberID(p.ID),
			Name:       s.memberName(p),
			Kind:       domain.MemberAI,
			ProviderID: p.ID,
			Role:       domain.MemberRoleMember,
			Active:     true,
			JoinedAt:   now,
		})
		names = append(names, s.memberName(p))
	}

	if err := s.Repo.CreateGroup(ctx, s.DB, g); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("group.id", g.ID))

	gs := newGroupState(*g)
	s.mu.Lock()
	s.groups[g.ID] = gs
	s.mu.Unlock()

	out := cloneGroup(*g)
	s.publish(events.Event{Type: events.GroupCreated, GroupID: g.ID, Group: &out})

	text := fmt.Sprintf("Group %q created", g.Name)
	if len(names) > 0 {
		text += " with " + strings.Join(names, ", ")
	}
	gs.mu.Lock()
	_, err := s.appendSystem(ctx, gs, domain.EntrySystem, text)
	gs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("group_id", g.ID).Int("ai_members", len(names)).Msg("group created")
	return &out, nil
}

// GetGroup returns a snapshot of the group.
func (s *GroupService) GetGroup(ctx context.Context, id string) (*domain.GroupChat, error) {
	gs, err := s.state(ctx, id)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g := cloneGroup(gs.group)
	return &g, nil
}

// ListGroups returns a page of groups, most recently active first.
func (s *GroupService) ListGroups(ctx context.Context, page, pageSize int) ([]domain.GroupChat, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListGroups",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)))
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := s.Repo.CountGroups(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.GroupChat{}, 0, nil
	}
	items, err := s.Repo.ListGroupsPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// UpdateGroup applies a partial update. A settings change is recorded in
// the transcript.
func (s *GroupService) UpdateGroup(ctx context.Context, id string, in UpdateGroupInput) (*domain.GroupChat, error) {
	ctx, span := s.tracer().Start(ctx, "UpdateGroup", trace.WithAttributes(attribute.String("group.id", id)))
	defer span.End()

	gs, err := s.state(ctx, id)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	g := cloneGroup(gs.group)
	if in.Name != nil {
		name := normalizeName(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		g.Name = s.clip(name)
	}
	if in.Description != nil {
		g.Description = strings.TrimSpace(*in.Description)
	}
	var changes []string
	if in.Settings != nil {
		if err := validateSettings(*in.Settings); err != nil {
			return nil, err
		}
		changes = settingsDiff(g.Settings, *in.Settings)
		g.Settings = *in.Settings
	}

	if err := s.Repo.UpdateGroup(ctx, s.DB, id, g.Name, g.Description, g.Settings); err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	g.UpdatedAt = time.Now().UTC()
	gs.group = g

	out := cloneGroup(g)
	s.publish(events.Event{Type: events.GroupUpdated, GroupID: id, Group: &out})
	if len(changes) > 0 {
		if _, err := s.appendSystem(ctx, gs, domain.EntrySettings, "Settings changed: "+strings.Join(changes, ", ")); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// DeleteGroup cancels the group's in-flight turns and removes the group
// with its transcript.
func (s *GroupService) DeleteGroup(ctx context.Context, id string) error {
	ctx, span := s.tracer().Start(ctx, "DeleteGroup", trace.WithAttributes(attribute.String("group.id", id)))
	defer span.End()

	gs, err := s.state(ctx, id)
	if err != nil {
		return err
	}
	gs.mu.Lock()
	for _, t := range gs.sessions {
		t.session.Abort()
	}
	gs.mu.Unlock()

	if err := s.Repo.DeleteGroup(ctx, s.DB, id); err != nil {
		if isNotFound(err) {
			return ErrGroupNotFound
		}
		return err
	}
	s.mu.Lock()
	delete(s.groups, id)
	s.mu.Unlock()

	s.publish(events.Event{Type: events.GroupDeleted, GroupID: id})
	s.log.Info().Str("group_id", id).Msg("group deleted")
	return nil
}

// ----------------------------------------------------------------------------
// Members

// AddMember adds the provider as an AI member, or reactivates it if it
// left earlier. A join entry is appended to the transcript.
func (s *GroupService) AddMember(ctx context.Context, groupID, providerID, name string) (*domain.GroupMember, error) {
	ctx, span := s.tracer().Start(ctx, "AddMember", trace.WithAttributes(
		attribute.String("group.id", groupID), attribute.String("provider.id", providerID)))
	defer span.End()

	p, ok := s.Providers.Provider(strings.TrimSpace(providerID))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, providerID)
	}
	gs, err := s.state(ctx, groupID)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	id := domain.AIMemberID(p.ID)
	if m, ok := gs.group.Member(id); ok && m.Active {
		return nil, ErrMemberExists
	}
	display := normalizeName(name)
	if display == "" {
		display = s.memberName(p)
	}
	m := domain.GroupMember{
		GroupID:    groupID,
		ID:         id,
		Name:       s.clip(display),
		Kind:       domain.MemberAI,
		ProviderID: p.ID,
		Role:       domain.MemberRoleMember,
		Active:     true,
		JoinedAt:   time.Now().UTC(),
	}
	if err := s.Repo.UpsertMember(ctx, s.DB, &m); err != nil {
		return nil, err
	}

	g := cloneGroup(gs.group)
	if existing, ok := g.Member(id); ok {
		*existing = m
	} else {
		g.Members = append(g.Members, m)
	}
	gs.group = g
	gs.statusMu.Lock()
	gs.status[p.ID] = &MemberStatus{MemberID: id, ProviderID: p.ID, Name: m.Name, Status: domain.StatusPending, UpdatedAt: m.JoinedAt}
	gs.statusMu.Unlock()

	s.publish(events.Event{Type: events.MemberAdded, GroupID: groupID, Member: &m})
	if _, err := s.appendSystem(ctx, gs, domain.EntryJoin, m.Name+" joined the group"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RemoveMember deactivates an AI member. Its past entries stay in the
// transcript. The user member cannot be removed.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, memberID string) error {
	ctx, span := s.tracer().Start(ctx, "RemoveMember", trace.WithAttributes(
		attribute.String("group.id", groupID), attribute.String("member.id", memberID)))
	defer span.End()

	if memberID == domain.UserMemberID {
		return fmt.Errorf("%w: the group owner cannot leave", ErrInvalidInput)
	}
	gs, err := s.state(ctx, groupID)
	if err != nil {
		return err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	m, ok := gs.group.Member(memberID)
	if !ok || !m.Active || m.Kind != domain.MemberAI {
		return ErrMemberNotFound
	}
	if err := s.Repo.SetMemberActive(ctx, s.DB, groupID, memberID, false); err != nil {
		if isNotFound(err) {
			return ErrMemberNotFound
		}
		return err
	}

	g := cloneGroup(gs.group)
	removed, _ := g.Member(memberID)
	removed.Active = false
	gs.group = g
	gs.statusMu.Lock()
	delete(gs.status, removed.ProviderID)
	gs.statusMu.Unlock()

	snapshot := *removed
	s.publish(events.Event{Type: events.MemberRemoved, GroupID: groupID, Member: &snapshot})
	_, err = s.appendSystem(ctx, gs, domain.EntryLeave, snapshot.Name+" left the group")
	return err
}

// Statuses returns the reply status board of a group, in member join order.
func (s *GroupService) Statuses(ctx context.Context, groupID string) ([]MemberStatus, error) {
	gs, err := s.state(ctx, groupID)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	members := gs.group.AIMembers()
	gs.mu.Unlock()

	gs.statusMu.Lock()
	defer gs.statusMu.Unlock()
	out := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		if st, ok := gs.status[m.ProviderID]; ok {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (gs *groupState) setStatus(providerID string, fn func(*MemberStatus)) {
	gs.statusMu.Lock()
	defer gs.statusMu.Unlock()
	st, ok := gs.status[providerID]
	if !ok {
		return
	}
	fn(st)
	st.UpdatedAt = time.Now().UTC()
}

// ----------------------------------------------------------------------------
// Helpers

// appendSystem appends a system entry. Callers hold gs.mu.
func (s *GroupService) appendSystem(ctx context.Context, gs *groupState, kind domain.EntryKind, text string) (*domain.TranscriptEntry, error) {
	e := &domain.TranscriptEntry{
		SenderID:   "system",
		SenderName: "System",
		SenderKind: domain.SenderSystem,
		Kind:       kind,
		Content:    text,
	}
	if err := s.Repo.AppendEntries(ctx, s.DB, gs.group.ID, e); err != nil {
		return nil, err
	}
	s.publishEntry(events.MessageAppended, e)
	return e, nil
}

func (s *GroupService) publishEntry(t events.Type, e *domain.TranscriptEntry) {
	snap := snapshotEntry(e)
	s.publish(events.Event{Type: t, GroupID: e.GroupID, Entry: &snap})
}

// snapshotEntry copies e so observers never share the metadata map with
// the writer.
func snapshotEntry(e *domain.TranscriptEntry) domain.TranscriptEntry {
	out := *e
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (s *GroupService) defaultSettings() domain.GroupSettings {
	st := domain.DefaultGroupSettings()
	if s.Defaults.MaxConcurrent > 0 {
		st.MaxConcurrent = s.Defaults.MaxConcurrent
	}
	if s.Defaults.HistoryTurns > 0 {
		st.HistoryTurns = s.Defaults.HistoryTurns
	}
	return st
}

func validateSettings(st domain.GroupSettings) error {
	switch {
	case !st.ReplyMode.Valid():
		return fmt.Errorf("%w: reply_mode must be simultaneous or sequential", ErrInvalidInput)
	case st.MaxConcurrent < 1:
		return fmt.Errorf("%w: max_concurrent must be >= 1", ErrInvalidInput)
	case st.ReplyDelayMS < 0:
		return fmt.Errorf("%w: reply_delay_ms must be >= 0", ErrInvalidInput)
	case st.HistoryTurns < 0:
		return fmt.Errorf("%w: history_turns must be >= 0", ErrInvalidInput)
	}
	return nil
}

func settingsDiff(old, cur domain.GroupSettings) []string {
	var out []string
	if old.ReplyMode != cur.ReplyMode {
		out = append(out, "reply mode "+string(cur.ReplyMode))
	}
	if old.MaxConcurrent != cur.MaxConcurrent {
		out = append(out, fmt.Sprintf("max concurrent %d", cur.MaxConcurrent))
	}
	if old.ReplyDelayMS != cur.ReplyDelayMS {
		out = append(out, fmt.Sprintf("reply delay %dms", cur.ReplyDelayMS))
	}
	if old.SystemPrompt != cur.SystemPrompt {
		out = append(out, "system prompt")
	}
	if old.HistoryTurns != cur.HistoryTurns {
		out = append(out, fmt.Sprintf("history %d turns", cur.HistoryTurns))
	}
	if old.AllowAllReply != cur.AllowAllReply {
		if cur.AllowAllReply {
			out = append(out, "all members reply")
		} else {
			out = append(out, "mentioned members reply")
		}
	}
	return out
}

// clip truncates a name to the configured maximum rune length.
func (s *GroupService) clip(name string) string {
	if s.GroupNameMaxLen > 0 && utf8.RuneCountInString(name) > s.GroupNameMaxLen {
		return string([]rune(name)[:s.GroupNameMaxLen])
	}
	return name
}

// memberName is the display name of a new AI member. Providers without a
// configured name are title-cased from their id ("deepseek" -> "Deepseek").
func (s *GroupService) memberName(p domain.Provider) string {
	if p.Name != "" {
		return p.Name
	}
	return cases.Title(s.NameLocale).String(p.ID)
}

// normalizeName trims whitespace and collapses runs of spaces to one.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sortedIDs returns the keys of m in ascending order.
func sortedIDs[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
