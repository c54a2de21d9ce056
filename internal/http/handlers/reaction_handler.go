// Reaction HTTP handlers.
//
//   - POST   /messages/{id}/reactions          (add)
//   - GET    /messages/{id}/reactions          (summary)
//   - DELETE /messages/{id}/reactions/{emoji}  (remove caller's reaction)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
)

// ReactionRequest is the JSON payload for adding a reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required" example:"👍"`
}

// AddReaction godoc
// @ID          addReaction
// @Summary     React to a transcript entry
// @Description Each caller can leave a given emoji once per entry.
// @Tags        Reactions
// @Accept      json
// @Produce     json
// @Param       id         path    string  true  "Entry ID"  format(uuid)
// @Param       X-User-ID  header  string  false "Caller id"
// @Param       body       body    handlers.ReactionRequest  true  "Reaction"
// @Success     201  {object}  domain.Reaction
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid emoji"
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already reacted"
// @Router      /messages/{id}/reactions [post]
func (h *Handlers) AddReaction(c *gin.Context) {
	id, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "emoji required")
		return
	}
	r, err := h.reactions.Add(c.Request.Context(), middleware.UserID(c), id, req.Emoji)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListReactions godoc
// @ID          listReactions
// @Summary     Reactions on a transcript entry
// @Tags        Reactions
// @Produce     json
// @Param       id  path  string  true  "Entry ID"  format(uuid)
// @Success     200  {object}  services.ReactionSummary
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Router      /messages/{id}/reactions [get]
func (h *Handlers) ListReactions(c *gin.Context) {
	id, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	sum, err := h.reactions.List(c.Request.Context(), id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// RemoveReaction godoc
// @ID          removeReaction
// @Summary     Remove the caller's reaction
// @Tags        Reactions
// @Param       id     path  string  true  "Entry ID"  format(uuid)
// @Param       emoji  path  string  true  "Emoji (URL-encoded)"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Reaction not found"
// @Router      /messages/{id}/reactions/{emoji} [delete]
func (h *Handlers) RemoveReaction(c *gin.Context) {
	id, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	if err := h.reactions.Remove(c.Request.Context(), middleware.UserID(c), id, c.Param("emoji")); err != nil {
		serviceFailure(c, err)
		return
	}
	noContent(c)
}
