package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/tbourn/go-groupchat-backend/internal/coordinator"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
)

// SendOptions carries the optional parameters of SendUserMessage.
type SendOptions struct {
	UserID         string
	IdempotencyKey string
}

// SessionInfo summarizes one in-flight reply session.
type SessionInfo struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	UserEntryID string    `json:"user_entry_id"`
	Providers   []string  `json:"providers"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Regenerate  bool      `json:"regenerate"`
	StartedAt   time.Time `json:"started_at"`
}

// Turn is the handle of one dispatched user turn. Replies holds the
// placeholder entries as appended; their final content is delivered
// through the event bus and the transcript.
type Turn struct {
	SessionID  string                   `json:"session_id"`
	GroupID    string                   `json:"group_id"`
	UserEntry  *domain.TranscriptEntry  `json:"user_entry"`
	Replies    []domain.TranscriptEntry `json:"replies"`
	Replayed   bool                     `json:"replayed"`
	Regenerate bool                     `json:"regenerate"`

	session *coordinator.Session
	out     *outcome
}

// outcome is shared by a turn and its replayed copies.
type outcome struct {
	done    chan struct{}
	mu      sync.Mutex
	results map[string]domain.ReplyResult
}

func newOutcome() *outcome { return &outcome{done: make(chan struct{})} }

// Done is closed once every provider of the turn has a terminal result.
func (t *Turn) Done() <-chan struct{} { return t.out.done }

// Results returns the terminal results; it is empty until Done.
func (t *Turn) Results() map[string]domain.ReplyResult {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	out := make(map[string]domain.ReplyResult, len(t.out.results))
	for k, v := range t.out.results {
		out[k] = v
	}
	return out
}

// Wait blocks until the turn settles or ctx ends.
func (t *Turn) Wait(ctx context.Context) (map[string]domain.ReplyResult, error) {
	select {
	case <-t.out.done:
		return t.Results(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info returns a point-in-time summary of the turn.
func (t *Turn) Info() SessionInfo {
	info := SessionInfo{
		ID:         t.SessionID,
		GroupID:    t.GroupID,
		Regenerate: t.Regenerate,
	}
	if t.UserEntry != nil {
		info.UserEntryID = t.UserEntry.ID
	}
	if t.session != nil {
		for _, r := range t.session.Requests {
			info.Providers = append(info.Providers, r.Provider.ID)
		}
		info.Completed = t.session.Completed()
		info.Total = t.session.Size()
		info.StartedAt = t.session.Created.UTC()
	}
	return info
}

func (t *Turn) settle(results map[string]domain.ReplyResult) {
	t.out.mu.Lock()
	t.out.results = results
	t.out.mu.Unlock()
	close(t.out.done)
}

func settled(t *Turn) *Turn {
	t.out = newOutcome()
	close(t.out.done)
	return t
}

// SendUserMessage appends the user's text and one pending reply entry per
// replying AI member, then dispatches the providers in the background.
// It returns once the entries are persisted; results arrive on the bus.
//
// With a non-empty IdempotencyKey, a repeated call returns the original
// turn marked as replayed instead of dispatching again.
func (s *GroupService) SendUserMessage(ctx context.Context, groupID, text string, opt SendOptions) (*Turn, error) {
	ctx, span := s.tracer().Start(ctx, "SendUserMessage",
		trace.WithAttributes(attribute.String("group.id", groupID)))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ErrInvalidInput)
	}
	if limit := s.Defaults.MaxMessageRunes; limit > 0 && utf8.RuneCountInString(text) > limit {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, limit)
	}
	if opt.UserID == "" {
		opt.UserID = domain.UserMemberID
	}

	gs, err := s.state(ctx, groupID)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if opt.IdempotencyKey != "" {
		if t, ok, err := s.replay(ctx, gs, opt); err != nil || ok {
			return t, err
		}
	}

	g := gs.group
	members := g.AIMembers()
	if len(members) == 0 {
		return nil, ErrNoProviders
	}
	if !g.Settings.AllowAllReply {
		members = mentioned(text, members)
	}

	user := &domain.TranscriptEntry{
		ID:         uuid.NewString(),
		SenderID:   domain.UserMemberID,
		SenderName: "You",
		SenderKind: domain.SenderUser,
		Content:    text,
	}
	if len(members) == 0 {
		if err := s.Repo.AppendEntries(ctx, s.DB, groupID, user); err != nil {
			return nil, err
		}
		s.afterAppend(ctx, gs, user)
		return settled(&Turn{GroupID: groupID, UserEntry: user}), nil
	}

	turns := g.Settings.HistoryTurns
	prior, err := s.Repo.ListHistoryWindow(ctx, s.DB, groupID, math.MaxInt64, turns)
	if err != nil {
		return nil, err
	}

	entries := []*domain.TranscriptEntry{user}
	reqs := make([]coordinator.Request, 0, len(members))
	for _, m := range members {
		p := s.resolveProvider(m)
		reqs = append(reqs, coordinator.Request{
			Provider:     p,
			Message:      text,
			History:      buildHistory(prior, p.ID, turns),
			SystemPrefix: g.Settings.SystemPrompt,
		})
		entries = append(entries, &domain.TranscriptEntry{
			SenderID:   m.ID,
			SenderName: m.Name,
			SenderKind: domain.SenderAI,
			Status:     domain.StatusPending,
			ProviderID: p.ID,
			ReplyTo:    user.ID,
			Metadata:   datatypes.JSONMap{"role": m.Role},
		})
	}
	if err := s.Repo.AppendEntries(ctx, s.DB, groupID, entries...); err != nil {
		return nil, err
	}

	s.afterAppend(ctx, gs, user)
	for _, e := range entries[1:] {
		s.publishEntry(events.MessageAppended, e)
	}

	t, err := s.dispatch(ctx, gs, user, entries[1:], reqs, false)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", t.SessionID), attribute.Int("providers", len(reqs)))

	if opt.IdempotencyKey != "" {
		if _, err := s.Repo.CreateIdempotency(ctx, s.DB, opt.UserID, groupID, opt.IdempotencyKey,
			user.ID, t.SessionID, http.StatusAccepted, s.Defaults.IdempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("group_id", groupID).Msg("store idempotency key")
		}
	}
	return t, nil
}

// replay returns the turn recorded under the idempotency key, if any.
// Callers hold gs.mu.
func (s *GroupService) replay(ctx context.Context, gs *groupState, opt SendOptions) (*Turn, bool, error) {
	rec, err := s.Repo.GetIdempotency(ctx, s.DB, opt.UserID, gs.group.ID, opt.IdempotencyKey, time.Now().UTC())
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if live, ok := gs.sessions[rec.SessionID]; ok {
		return &Turn{
			SessionID:  live.SessionID,
			GroupID:    live.GroupID,
			UserEntry:  live.UserEntry,
			Replies:    live.Replies,
			Replayed:   true,
			Regenerate: live.Regenerate,
			session:    live.session,
			out:        live.out,
		}, true, nil
	}

	user, err := s.Repo.GetEntry(ctx, s.DB, gs.group.ID, rec.EntryID)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	replies, err := s.Repo.ListReplies(ctx, s.DB, gs.group.ID, user.ID)
	if err != nil {
		return nil, false, err
	}
	return settled(&Turn{
		SessionID: rec.SessionID,
		GroupID:   gs.group.ID,
		UserEntry: user,
		Replies:   replies,
		Replayed:  true,
	}), true, nil
}

// afterAppend updates the group summary and announces the entry.
func (s *GroupService) afterAppend(ctx context.Context, gs *groupState, e *domain.TranscriptEntry) {
	if err := s.Repo.TouchGroup(ctx, s.DB, gs.group.ID, e.Content, e.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("group_id", gs.group.ID).Msg("touch group")
	} else {
		at := e.CreatedAt
		gs.group.LastMessage = e.Content
		gs.group.LastMessageAt = &at
		gs.group.UpdatedAt = at
	}
	s.publishEntry(events.MessageAppended, e)
}

// RegenerateReply re-invokes one provider for an earlier user entry and
// overwrites that provider's reply entry in place. Other replies to the
// same entry are not touched.
func (s *GroupService) RegenerateReply(ctx context.Context, groupID, userEntryID, providerID string) (*Turn, error) {
	ctx, span := s.tracer().Start(ctx, "RegenerateReply", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.String("entry.id", userEntryID),
		attribute.String("provider.id", providerID)))
	defer span.End()

	gs, err := s.state(ctx, groupID)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	user, err := s.Repo.GetEntry(ctx, s.DB, groupID, userEntryID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if user.SenderKind != domain.SenderUser || user.Kind != domain.EntryText {
		return nil, fmt.Errorf("%w: entry is not a user message", ErrNotRegenerable)
	}

	m, ok := gs.group.Member(domain.AIMemberID(providerID))
	if !ok || !m.Active || m.Kind != domain.MemberAI {
		return nil, ErrMemberNotFound
	}

	replies, err := s.Repo.ListReplies(ctx, s.DB, groupID, user.ID)
	if err != nil {
		return nil, err
	}
	var entry *domain.TranscriptEntry
	for i := range replies {
		if replies[i].ProviderID == providerID {
			entry = &replies[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no reply from %s to this message", ErrEntryNotFound, providerID)
	}
	if !entry.Frozen() {
		return nil, fmt.Errorf("%w: reply is still in progress", ErrNotRegenerable)
	}

	turns := gs.group.Settings.HistoryTurns
	prior, err := s.Repo.ListHistoryWindow(ctx, s.DB, groupID, user.Seq, turns)
	if err != nil {
		return nil, err
	}

	p := s.resolveProvider(*m)
	entry.Content = ""
	entry.Status = domain.StatusPending
	entry.Metadata = datatypes.JSONMap{"role": m.Role, "regenerated": true}
	if err := s.Repo.UpdateEntry(ctx, s.DB, entry); err != nil {
		return nil, err
	}
	s.publishEntry(events.MessageUpdated, entry)

	req := coordinator.Request{
		Provider:     p,
		Message:      user.Content,
		History:      buildHistory(prior, p.ID, turns),
		SystemPrefix: gs.group.Settings.SystemPrompt,
	}
	return s.dispatch(ctx, gs, user, []*domain.TranscriptEntry{entry}, []coordinator.Request{req}, true)
}

// resolveProvider maps an AI member onto its catalog provider. A member
// whose provider left the catalog keeps its id with no family, so the
// turn resolves it as unsupported.
func (s *GroupService) resolveProvider(m domain.GroupMember) domain.Provider {
	if p, ok := s.Providers.Provider(m.ProviderID); ok {
		return p
	}
	return domain.Provider{ID: m.ProviderID, Name: m.Name}
}

// dispatch registers a session for replies and starts the coordinator on
// the service context. Callers hold gs.mu.
func (s *GroupService) dispatch(ctx context.Context, gs *groupState, user *domain.TranscriptEntry,
	replies []*domain.TranscriptEntry, reqs []coordinator.Request, regenerate bool,
) (*Turn, error) {
	sess, err := coordinator.NewSession(uuid.NewString(), gs.group.ID, user.Content, reqs)
	if err != nil {
		if errors.Is(err, coordinator.ErrNoProviders) {
			return nil, ErrNoProviders
		}
		return nil, err
	}

	t := &Turn{
		SessionID:  sess.ID,
		GroupID:    gs.group.ID,
		UserEntry:  user,
		Regenerate: regenerate,
		session:    sess,
		out:        newOutcome(),
	}
	l := &turnListener{
		svc:     s,
		gs:      gs,
		turn:    t,
		replies: make(map[string]*replyState, len(replies)),
	}
	for _, e := range replies {
		t.Replies = append(t.Replies, snapshotEntry(e))
		l.replies[e.ProviderID] = &replyState{entry: e}
		gs.setStatus(e.ProviderID, func(st *MemberStatus) {
			st.Status = domain.StatusPending
			st.SessionID = sess.ID
			st.LastError = ""
			st.ErrorKind = ""
		})
	}
	gs.sessions[sess.ID] = t

	opts := s.options(gs.group.Settings)
	runCtx := trace.ContextWithSpanContext(s.baseCtx, trace.SpanContextFromContext(ctx))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Coordinator.Dispatch(runCtx, sess, opts, l); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID).Msg("dispatch failed")
		}
	}()

	s.log.Info().Str("group_id", gs.group.ID).Str("session_id", sess.ID).
		Int("providers", len(reqs)).Str("mode", string(opts.Mode)).Bool("regenerate", regenerate).
		Msg("reply session started")
	return t, nil
}

func (s *GroupService) options(st domain.GroupSettings) coordinator.Options {
	d := s.Defaults
	maxConc := st.MaxConcurrent
	if maxConc <= 0 {
		maxConc = d.MaxConcurrent
	}
	mode := st.ReplyMode
	if !mode.Valid() {
		mode = domain.ModeSimultaneous
	}
	opts := coordinator.Options{
		Mode:           mode,
		MaxConcurrent:  maxConc,
		InterCallDelay: st.ReplyDelay(),
		MaxRetries:     d.MaxRetries,
		RetryBaseDelay: d.RetryBaseDelay,
		PerCallTimeout: d.Timeout,
		LateGrace:      d.LateGrace,
	}
	if !d.RetryAuth {
		opts.ShouldRetry = coordinator.SkipAuthRetry
	}
	return opts
}

// ActiveSessions lists the group's in-flight reply sessions, oldest first.
func (s *GroupService) ActiveSessions(ctx context.Context, groupID string) ([]SessionInfo, error) {
	gs, err := s.state(ctx, groupID)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	out := make([]SessionInfo, 0, len(gs.sessions))
	for _, id := range sortedIDs(gs.sessions) {
		out = append(out, gs.sessions[id].Info())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// CancelSession resolves every unresolved provider of the session as
// cancelled. The aggregate event still fires.
func (s *GroupService) CancelSession(ctx context.Context, groupID, sessionID string) error {
	gs, err := s.state(ctx, groupID)
	if err != nil {
		return err
	}
	gs.mu.Lock()
	t, ok := gs.sessions[sessionID]
	gs.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	t.session.Abort()
	s.log.Info().Str("group_id", groupID).Str("session_id", sessionID).Msg("reply session cancelled")
	return nil
}

// buildHistory returns the conversation a provider may see: every user
// text entry and the provider's own completed replies, limited to the
// last turns user messages.
func buildHistory(prior []domain.TranscriptEntry, providerID string, turns int) []domain.Message {
	if turns <= 0 {
		return nil
	}
	var msgs []domain.Message
	for _, e := range prior {
		if e.Kind != domain.EntryText {
			continue
		}
		switch {
		case e.SenderKind == domain.SenderUser:
			msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: e.Content, CreatedAt: e.CreatedAt})
		case e.SenderKind == domain.SenderAI && e.ProviderID == providerID &&
			e.Status == domain.StatusCompleted && e.Content != "":
			msgs = append(msgs, domain.Message{Role: domain.RoleAssistant, Content: e.Content, CreatedAt: e.CreatedAt})
		}
	}

	users := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != domain.RoleUser {
			continue
		}
		users++
		if users == turns {
			return msgs[i:]
		}
	}
	return msgs
}

// mentioned keeps the members addressed with "@<provider id>" or
// "@<name>" in text. Matching ignores case.
func mentioned(text string, members []domain.GroupMember) []domain.GroupMember {
	low := strings.ToLower(text)
	var out []domain.GroupMember
	for _, m := range members {
		if strings.Contains(low, "@"+strings.ToLower(m.ProviderID)) ||
			(m.Name != "" && strings.Contains(low, "@"+strings.ToLower(m.Name))) {
			out = append(out, m)
		}
	}
	return out
}
