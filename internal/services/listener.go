package services

import (
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-groupchat-backend/internal/coordinator"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
)

// replyState is one provider's reply entry while its session runs.
type replyState struct {
	entry     *domain.TranscriptEntry
	text      strings.Builder
	lastFlush time.Time
}

// turnListener turns coordinator notifications into transcript writes,
// status board updates and bus events. Notifications for one provider
// are serialized by the coordinator, so a replyState is only touched by
// one goroutine at a time.
type turnListener struct {
	svc     *GroupService
	gs      *groupState
	turn    *Turn
	replies map[string]*replyState
}

var _ coordinator.Listener = (*turnListener)(nil)

func (l *turnListener) ReplyStarted(s *coordinator.Session, providerID string) {
	rs, ok := l.replies[providerID]
	if !ok {
		return
	}
	rs.entry.Status = domain.StatusInProgress
	l.persist(rs)
	l.gs.setStatus(providerID, func(st *MemberStatus) { st.Status = domain.StatusInProgress })
	l.svc.publish(events.Event{
		Type:       events.ReplyStarted,
		GroupID:    s.GroupID,
		SessionID:  s.ID,
		ProviderID: providerID,
		Completed:  s.Completed(),
		Total:      s.Size(),
	})
}

func (l *turnListener) ReplyDelta(s *coordinator.Session, providerID, text string) {
	rs, ok := l.replies[providerID]
	if !ok || text == "" {
		return
	}
	rs.text.WriteString(text)
	if time.Since(rs.lastFlush) >= l.svc.Defaults.ProgressFlush {
		rs.entry.Content = rs.text.String()
		l.persist(rs)
		rs.lastFlush = time.Now()
	}
	l.svc.publish(events.Event{
		Type:       events.ReplyProgress,
		GroupID:    s.GroupID,
		SessionID:  s.ID,
		ProviderID: providerID,
		Delta:      text,
		Completed:  s.Completed(),
		Total:      s.Size(),
	})
}

func (l *turnListener) ReplyRetrying(s *coordinator.Session, providerID string, attempt int, cause error) {
	rs, ok := l.replies[providerID]
	if !ok {
		return
	}
	// A retry restarts the stream from the beginning.
	rs.text.Reset()
	if rs.entry.Content != "" {
		rs.entry.Content = ""
		l.persist(rs)
	}
	l.svc.log.Debug().Str("session_id", s.ID).Str("provider", providerID).
		Int("attempt", attempt).Err(cause).Msg("retrying provider")
	l.svc.publish(events.Event{
		Type:       events.ReplyRetrying,
		GroupID:    s.GroupID,
		SessionID:  s.ID,
		ProviderID: providerID,
		Attempt:    attempt,
		Completed:  s.Completed(),
		Total:      s.Size(),
	})
}

// ReplyTerminal runs under the provider's result slot lock. completed
// counts r itself.
func (l *turnListener) ReplyTerminal(s *coordinator.Session, r domain.ReplyResult, completed int) {
	rs, ok := l.replies[r.ProviderID]
	if ok {
		e := rs.entry
		e.Status = r.Status()
		if r.Success {
			e.Content = r.Text
		} else {
			e.Content = errorMarker(r)
		}
		e.Metadata = terminalMetadata(e.Metadata, r)
		l.persist(rs)
	}

	l.gs.setStatus(r.ProviderID, func(st *MemberStatus) {
		st.Status = r.Status()
		st.LastError = r.Error
		st.ErrorKind = r.ErrorKind
	})

	res := r
	l.svc.publish(events.Event{
		Type:       events.ReplyTerminal,
		GroupID:    s.GroupID,
		SessionID:  s.ID,
		ProviderID: r.ProviderID,
		Result:     &res,
		Completed:  completed,
		Total:      s.Size(),
	})
	if ok {
		l.svc.publishEntry(events.MessageUpdated, rs.entry)
	}
}

func (l *turnListener) AllSettled(s *coordinator.Session, results map[string]domain.ReplyResult) {
	l.gs.mu.Lock()
	delete(l.gs.sessions, s.ID)
	l.gs.mu.Unlock()

	l.svc.publish(events.Event{
		Type:      events.RepliesSettled,
		GroupID:   s.GroupID,
		SessionID: s.ID,
		Results:   results,
		Completed: len(results),
		Total:     s.Size(),
	})
	l.turn.settle(results)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	l.svc.log.Info().Str("group_id", s.GroupID).Str("session_id", s.ID).
		Int("providers", s.Size()).Int("failed", failed).Msg("reply session settled")
}

// persist writes the entry on a context detached from the session, so a
// cancelled turn still records its terminal state.
func (l *turnListener) persist(rs *replyState) {
	ctx, cancel := l.svc.persistCtx()
	defer cancel()
	if err := l.svc.Repo.UpdateEntry(ctx, l.svc.DB, rs.entry); err != nil {
		l.svc.log.Error().Err(err).Str("entry_id", rs.entry.ID).Msg("persist reply entry")
	}
}

// terminalMetadata records the outcome of r on top of the placeholder's
// role and regenerated marks.
func terminalMetadata(prev datatypes.JSONMap, r domain.ReplyResult) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"elapsed_ms": r.Elapsed.Milliseconds(),
		"retries":    r.Retries,
	}
	for _, k := range []string{"role", "regenerated"} {
		if v, ok := prev[k]; ok {
			meta[k] = v
		}
	}
	if r.ErrorKind != "" {
		meta["error_kind"] = r.ErrorKind
	}
	return meta
}

// errorMarker is the transcript text of a failed reply.
func errorMarker(r domain.ReplyResult) string {
	switch r.ErrorKind {
	case "timeout":
		return "[error] no reply within the time limit"
	case "cancelled":
		return "[error] reply cancelled"
	}
	msg := strings.TrimSpace(r.Error)
	if msg == "" || msg == r.ErrorKind {
		return "[error] " + r.ErrorKind
	}
	return "[error] " + msg
}
