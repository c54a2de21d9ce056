// Transcript and turn HTTP handlers.
//
//   - GET    /groups/{id}/messages                           (paginated, ETag)
//   - POST   /groups/{id}/messages                           (dispatch a turn, 202)
//   - POST   /groups/{id}/messages/{messageId}/regenerate    (one provider, 202)
//   - GET    /groups/{id}/sessions                           (in-flight sessions)
//   - DELETE /groups/{id}/sessions/{sessionId}               (cancel)
//   - GET    /groups/{id}/search?q=                          (keyword search)
//
// Posting returns as soon as the turn is dispatched; replies arrive on the
// event stream and in the transcript. With ?wait=true the handler holds the
// request until every provider has settled.
package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
	"github.com/tbourn/go-groupchat-backend/internal/search"
	"github.com/tbourn/go-groupchat-backend/internal/services"
	"github.com/tbourn/go-groupchat-backend/internal/utils"
)

// PostMessageRequest is the JSON payload for a user turn.
type PostMessageRequest struct {
	// Content is the user message; mention members with @provider to
	// address them when the group does not let everyone reply.
	Content string `json:"content" binding:"required" example:"What is the capital of Australia?"`
}

// RegenerateRequest names the provider whose reply is recomputed.
type RegenerateRequest struct {
	ProviderID string `json:"provider_id" binding:"required" example:"claude"`
}

// TurnResponse describes a dispatched turn. Results is only set when the
// request waited for the turn to settle.
type TurnResponse struct {
	*services.Turn
	Results map[string]domain.ReplyResult `json:"results,omitempty"`
}

// MessageView is a transcript entry with its reaction counts.
type MessageView struct {
	domain.TranscriptEntry
	Reactions map[string]int `json:"reactions,omitempty"`
}

// ListMessagesResponse wraps a page of the transcript.
type ListMessagesResponse struct {
	Messages   []MessageView `json:"messages"`
	Pagination Pagination    `json:"pagination"`
}

// SessionsResponse lists in-flight sessions.
type SessionsResponse struct {
	GroupID  string                 `json:"group_id"`
	Sessions []services.SessionInfo `json:"sessions"`
}

// SearchResponse holds ranked search hits.
type SearchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses runs of blank lines
// to one and trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List transcript entries
// @Description Returns a page of the transcript in order, with reaction counts. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Param       id             path    string  true  "Group ID"        format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(50)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}

	count, at, err := h.transcript.EntriesVersion(ctx, id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	if notModified(c, "messages:"+id, count, at) {
		return
	}

	page, pageSize := clampPagination(c, 50)
	items, total, err := h.transcript.ListMessages(ctx, id, page, pageSize)
	if err != nil {
		serviceFailure(c, err)
		return
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	counts, err := h.reactions.Counts(ctx, ids)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("reaction counts unavailable")
	}
	views := make([]MessageView, len(items))
	for i, e := range items {
		views[i] = MessageView{TranscriptEntry: e, Reactions: counts[e.ID]}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: views, Pagination: newPagination(page, pageSize, total)})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to the group
// @Description Appends the user message and dispatches one reply per addressed AI member.
// @Description Replays with the same Idempotency-Key return the original turn.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id               path    string  true  "Group ID"  format(uuid)
// @Param       X-User-ID        header  string  false "Caller id"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       wait             query   bool    false "Wait for every reply to settle"
// @Param       body             body    handlers.PostMessageRequest  true  "User message"
// @Success     202  {object}  handlers.TurnResponse  "Dispatched"
// @Success     200  {object}  handlers.TurnResponse  "Settled (wait=true)"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Failure     422  {object}  handlers.ErrorResponse  "No AI members"
// @Router      /groups/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	turn, err := h.turns.SendUserMessage(c.Request.Context(), id, content, services.SendOptions{
		UserID:         middleware.UserID(c),
		IdempotencyKey: key,
	})
	if err != nil {
		serviceFailure(c, err)
		return
	}
	if turn.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	h.respondTurn(c, turn)
}

// Regenerate godoc
// @ID          regenerateReply
// @Summary     Regenerate one provider's reply
// @Description Re-runs a single provider for an earlier user message. Other replies are untouched.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id         path   string  true  "Group ID"               format(uuid)
// @Param       messageId  path   string  true  "User message entry ID"  format(uuid)
// @Param       wait       query  bool    false "Wait for the reply to settle"
// @Param       body       body   handlers.RegenerateRequest  true  "Provider"
// @Success     202  {object}  handlers.TurnResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Message or member not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Reply still running"
// @Router      /groups/{id}/messages/{messageId}/regenerate [post]
func (h *Handlers) Regenerate(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	msgID, valid := pathID(c, "messageId", "message")
	if !valid {
		return
	}
	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider_id required")
		return
	}
	turn, err := h.turns.RegenerateReply(c.Request.Context(), id, msgID, strings.TrimSpace(req.ProviderID))
	if err != nil {
		serviceFailure(c, err)
		return
	}
	h.respondTurn(c, turn)
}

// respondTurn answers 202 with the dispatched turn, or 200 with the results
// once settled when the caller asked to wait.
func (h *Handlers) respondTurn(c *gin.Context, turn *services.Turn) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		ok(c, http.StatusAccepted, TurnResponse{Turn: turn})
		return
	}
	results, err := turn.Wait(c.Request.Context())
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, TurnResponse{Turn: turn, Results: results})
}

// ListSessions godoc
// @ID          listSessions
// @Summary     In-flight reply sessions
// @Tags        Sessions
// @Produce     json
// @Param       id  path  string  true  "Group ID"  format(uuid)
// @Success     200  {object}  handlers.SessionsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	ss, err := h.turns.ActiveSessions(c.Request.Context(), id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, SessionsResponse{GroupID: id, Sessions: ss})
}

// CancelSession godoc
// @ID          cancelSession
// @Summary     Cancel a reply session
// @Description Unfinished providers resolve as cancelled errors.
// @Tags        Sessions
// @Param       id         path  string  true  "Group ID"    format(uuid)
// @Param       sessionId  path  string  true  "Session ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /groups/{id}/sessions/{sessionId} [delete]
func (h *Handlers) CancelSession(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	if err := h.turns.CancelSession(c.Request.Context(), id, c.Param("sessionId")); err != nil {
		serviceFailure(c, err)
		return
	}
	noContent(c)
}

// Search godoc
// @ID          searchTranscript
// @Summary     Search a group's transcript
// @Tags        Messages
// @Produce     json
// @Param       id  path   string  true  "Group ID"  format(uuid)
// @Param       q   query  string  true  "Keywords"
// @Param       k   query  int     false "Maximum hits"  minimum(1) maximum(50) default(5)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing query"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/search [get]
func (h *Handlers) Search(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q required")
		return
	}
	k := min(max(utils.AtoiDefault(c.Query("k"), 5), 1), 50)
	res, err := h.transcript.Search(c.Request.Context(), id, q, k)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	if res == nil {
		res = []search.Result{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Results: res})
}
