// Group HTTP handlers.
//
//   - POST   /groups                        (create)
//   - GET    /groups                        (list, paginated, ETag)
//   - GET    /groups/{id}                   (get)
//   - PATCH  /groups/{id}                   (rename, settings)
//   - DELETE /groups/{id}                   (delete, aborts sessions)
//   - POST   /groups/{id}/members           (add AI member)
//   - DELETE /groups/{id}/members/{memberId}
//   - GET    /groups/{id}/status            (reply status board)
//   - GET    /groups/{id}/stats             (per-sender counts)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/services"
)

// CreateGroupRequest is the JSON payload for creating a group.
type CreateGroupRequest struct {
	Name        string                `json:"name" example:"Model shootout"`
	Description string                `json:"description" example:"Compare answers side by side"`
	Providers   []string              `json:"providers" binding:"required,min=1" example:"chatgpt,claude"`
	Settings    *domain.GroupSettings `json:"settings"`
}

// UpdateGroupRequest is a partial group update; omitted fields are kept.
type UpdateGroupRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Settings    *domain.GroupSettings `json:"settings"`
}

// AddMemberRequest adds a provider to a group.
type AddMemberRequest struct {
	ProviderID string `json:"provider_id" binding:"required" example:"deepseek"`
	Name       string `json:"name" example:"DeepSeek"`
}

// ListGroupsResponse wraps a page of groups.
type ListGroupsResponse struct {
	Groups     []domain.GroupChat `json:"groups"`
	Pagination Pagination         `json:"pagination"`
}

// StatusResponse is a group's reply status board.
type StatusResponse struct {
	GroupID string                  `json:"group_id"`
	Members []services.MemberStatus `json:"members"`
}

// CreateGroup godoc
// @ID          createGroup
// @Summary     Create a group chat
// @Description Creates a group with the user and one AI member per provider.
// @Tags        Groups
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateGroupRequest  true  "Group payload"
// @Success     201  {object}  domain.GroupChat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown provider"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups [post]
func (h *Handlers) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "providers required")
		return
	}
	g, err := h.groups.CreateGroup(c.Request.Context(), services.CreateGroupInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		ProviderIDs: req.Providers,
		Settings:    req.Settings,
	})
	if err != nil {
		serviceFailure(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+g.ID)
	ok(c, http.StatusCreated, g)
}

// ListGroups godoc
// @ID          listGroups
// @Summary     List groups (paginated)
// @Description Returns groups, most recently active first. Supports weak ETag via If-None-Match.
// @Tags        Groups
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListGroupsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c, 20)

	if count, at, err := h.groups.GroupsVersion(ctx); err == nil {
		if notModified(c, "groups", count, at) {
			return
		}
	}

	items, total, err := h.groups.ListGroups(ctx, page, pageSize)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, ListGroupsResponse{Groups: items, Pagination: newPagination(page, pageSize, total)})
}

// GetGroup godoc
// @ID          getGroup
// @Summary     Get a group
// @Tags        Groups
// @Produce     json
// @Param       id  path  string  true  "Group ID"  format(uuid)
// @Success     200  {object}  domain.GroupChat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id} [get]
func (h *Handlers) GetGroup(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	g, err := h.groups.GetGroup(c.Request.Context(), id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// UpdateGroup godoc
// @ID          updateGroup
// @Summary     Update a group
// @Description Renames a group or replaces its settings. Settings changes are recorded in the transcript.
// @Tags        Groups
// @Accept      json
// @Produce     json
// @Param       id    path  string                        true  "Group ID"  format(uuid)
// @Param       body  body  handlers.UpdateGroupRequest  true  "Fields to change"
// @Success     200  {object}  domain.GroupChat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id} [patch]
func (h *Handlers) UpdateGroup(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Name == nil && req.Description == nil && req.Settings == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to update")
		return
	}
	g, err := h.groups.UpdateGroup(c.Request.Context(), id, services.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings,
	})
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// DeleteGroup godoc
// @ID          deleteGroup
// @Summary     Delete a group
// @Description Deletes the group and its transcript. In-flight replies are cancelled.
// @Tags        Groups
// @Param       id  path  string  true  "Group ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id} [delete]
func (h *Handlers) DeleteGroup(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	if err := h.groups.DeleteGroup(c.Request.Context(), id); err != nil {
		serviceFailure(c, err)
		return
	}
	noContent(c)
}

// AddMember godoc
// @ID          addMember
// @Summary     Add an AI member
// @Tags        Members
// @Accept      json
// @Produce     json
// @Param       id    path  string                     true  "Group ID"  format(uuid)
// @Param       body  body  handlers.AddMemberRequest  true  "Member payload"
// @Success     201  {object}  domain.GroupMember
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already a member"
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown provider"
// @Router      /groups/{id}/members [post]
func (h *Handlers) AddMember(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider_id required")
		return
	}
	m, err := h.groups.AddMember(c.Request.Context(), id, strings.TrimSpace(req.ProviderID), req.Name)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// RemoveMember godoc
// @ID          removeMember
// @Summary     Remove an AI member
// @Description The member is deactivated; its past replies stay in the transcript.
// @Tags        Members
// @Param       id        path  string  true  "Group ID"  format(uuid)
// @Param       memberId  path  string  true  "Member ID"  example(ai_deepseek)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "The user member cannot be removed"
// @Failure     404  {object}  handlers.ErrorResponse  "Member not found"
// @Router      /groups/{id}/members/{memberId} [delete]
func (h *Handlers) RemoveMember(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	if err := h.groups.RemoveMember(c.Request.Context(), id, c.Param("memberId")); err != nil {
		serviceFailure(c, err)
		return
	}
	noContent(c)
}

// Status godoc
// @ID          groupStatus
// @Summary     Reply status board
// @Description Latest reply status of every active AI member.
// @Tags        Groups
// @Produce     json
// @Param       id  path  string  true  "Group ID"  format(uuid)
// @Success     200  {object}  handlers.StatusResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/status [get]
func (h *Handlers) Status(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	st, err := h.groups.Statuses(c.Request.Context(), id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{GroupID: id, Members: st})
}

// Stats godoc
// @ID          groupStats
// @Summary     Transcript statistics
// @Tags        Groups
// @Produce     json
// @Param       id  path  string  true  "Group ID"  format(uuid)
// @Success     200  {object}  services.GroupStats
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	st, err := h.groups.Stats(c.Request.Context(), id)
	if err != nil {
		serviceFailure(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
