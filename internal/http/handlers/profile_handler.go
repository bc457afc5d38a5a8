// Profile HTTP handlers.
//
// This file exposes REST endpoints for household members:
//   - POST   /profiles        (create)
//   - GET    /profiles        (list, paginated, ETag support)
//   - GET    /profiles/{id}   (fetch)
//   - PUT    /profiles/{id}   (rename / recolor)
//   - DELETE /profiles/{id}   (delete with everything it owns)
//   - POST   /sync/profiles   (last-write-wins merge of a remote copy)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

//
// DTOs
//

// ProfileRequest is the JSON payload for creating or updating a profile.
type ProfileRequest struct {
	// DisplayName is normalized (whitespace collapsed, words capitalized).
	DisplayName string `json:"display_name" binding:"required" example:"Ana Maria"`
	// AvatarColor is a #RRGGBB color; invalid values fall back to the default.
	AvatarColor string `json:"avatar_color" example:"#4F46E5"`
}

// ListProfilesResponse wraps a page of profiles and pagination information.
type ListProfilesResponse struct {
	Profiles   []domain.Profile `json:"profiles"`
	Pagination Pagination       `json:"pagination"`
}

// SyncProfileRequest is a profile pushed by a paired device.
type SyncProfileRequest struct {
	ID          string    `json:"id"           binding:"required,uuid"`
	DisplayName string    `json:"display_name" binding:"required"`
	AvatarColor string    `json:"avatar_color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"   binding:"required"`
}

// SyncResponse reports which copy survived a merge.
type SyncResponse[T any] struct {
	Winner string `json:"winner" example:"remote"`
	Value  T      `json:"value"`
}

//
// Handlers
//

// CreateProfile godoc
// @ID          createProfile
// @Summary     Create a profile
// @Tags        Profiles
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.ProfileRequest  true  "Profile payload"
// @Success     201   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles [post]
func (h *Handlers) CreateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "display_name required")
		return
	}
	p, err := h.profiles.Create(c.Request.Context(), req.DisplayName, req.AvatarColor)
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, p)
}

// ListProfiles godoc
// @ID          listProfiles
// @Summary     List profiles (paginated)
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Profiles
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListProfilesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /profiles [get]
func (h *Handlers) ListProfiles(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		if count, maxTS, err := repo.ProfilesStats(ctx, h.db); err == nil {
			if notModified(c, weakETag("profiles", "all", count, maxTS)) {
				return
			}
		}
	}

	items, total, err := h.profiles.ListPage(ctx, page, pageSize)
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListProfilesResponse{
		Profiles:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Fetch a profile
// @Tags        Profiles
// @Produce     json
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Profile
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	id, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	p, err := h.profiles.Get(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdateProfile renames and recolors a profile.
func (h *Handlers) UpdateProfile(c *gin.Context) {
	id, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "display_name required")
		return
	}
	p, err := h.profiles.Update(c.Request.Context(), id, req.DisplayName, req.AvatarColor)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteProfile removes a profile with its medications, schedules and logs.
func (h *Handlers) DeleteProfile(c *gin.Context) {
	id, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	if err := h.profiles.Delete(c.Request.Context(), id); err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// SyncProfile merges a profile pushed by a paired device. The newer
// updated_at wins; on a tie the server copy is kept.
func (h *Handlers) SyncProfile(c *gin.Context) {
	var req SyncProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "id, display_name and updated_at are required")
		return
	}
	res, err := h.profiles.Merge(c.Request.Context(), domain.Profile{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		AvatarColor: req.AvatarColor,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	})
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, SyncResponse[domain.Profile]{Winner: res.Winner.String(), Value: res.Value})
}
