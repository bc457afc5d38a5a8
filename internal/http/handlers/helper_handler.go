package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// HelperRequest registers a caregiver device for a profile.
type HelperRequest struct {
	HelperName     string `json:"helper_name"      binding:"required" example:"Maria"`
	HelperDeviceID string `json:"helper_device_id" binding:"required" example:"device-7f3a"`
}

// ListHelpersResponse wraps a profile's helper pairings.
type ListHelpersResponse struct {
	Helpers []domain.HelperPairing `json:"helpers"`
}

// RegisterHelper pairs a helper with a profile so it is told about missed
// doses.
func (h *Handlers) RegisterHelper(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	var req HelperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "helper_name and helper_device_id are required")
		return
	}
	hp, err := h.helpers.Register(c.Request.Context(), profileID, req.HelperName, req.HelperDeviceID)
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, hp)
}

// ListHelpers returns the helpers of a profile; ?active=true hides
// deactivated pairings.
func (h *Handlers) ListHelpers(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	items, err := h.helpers.List(c.Request.Context(), profileID, c.Query("active") == "true")
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.HelperPairing{}
	}
	ok(c, http.StatusOK, ListHelpersResponse{Helpers: items})
}

// DeactivateHelper stops notifications to one helper.
func (h *Handlers) DeactivateHelper(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	helperID, okID := pathID(c, "helperID", "helper")
	if !okID {
		return
	}
	if err := h.helpers.Deactivate(c.Request.Context(), profileID, helperID); err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
