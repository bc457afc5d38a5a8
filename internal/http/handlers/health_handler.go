package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetHealth godoc
// @ID          getHealth
// @Summary     Adherence summary of a profile
// @Description Served from cache while fresh; recomputed from dose logs otherwise.
// @Tags        Health
// @Produce     json
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.HealthMetrics
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id}/health [get]
func (h *Handlers) GetHealth(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	m, err := h.health.Get(c.Request.Context(), profileID)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// RecomputeHealth forces a fresh adherence summary.
func (h *Handlers) RecomputeHealth(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	m, err := h.health.Recompute(c.Request.Context(), profileID)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}
