package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep triggers a missed-dose sweep outside the cron schedule and
// returns its counts.
func (h *Handlers) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeSweepFailed, "sweeper not configured")
		return
	}
	res, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSweepFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}
