package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/services"
)

// ScheduleRequest describes a dosing rule: explicit HH:MM times, or an
// interval rule that is expanded into times.
type ScheduleRequest struct {
	Times              []string         `json:"times"                example:"08:00,20:00"`
	DaysOfWeek         []int            `json:"days_of_week"         example:"1,3,5"`
	GracePeriodMinutes *int             `json:"grace_period_minutes" example:"30"`
	Interval           *IntervalRequest `json:"interval,omitempty"`
}

// IntervalRequest is "count doses every every_minutes starting at start".
type IntervalRequest struct {
	Start        string `json:"start"         example:"06:00"`
	EveryMinutes int    `json:"every_minutes" example:"480"`
	Count        int    `json:"count"         example:"3"`
}

func (r ScheduleRequest) input() services.ScheduleInput {
	in := services.ScheduleInput{
		Times:              r.Times,
		DaysOfWeek:         r.DaysOfWeek,
		GracePeriodMinutes: r.GracePeriodMinutes,
	}
	if r.Interval != nil {
		in.Interval = &services.IntervalRule{
			Start:        r.Interval.Start,
			EveryMinutes: r.Interval.EveryMinutes,
			Count:        r.Interval.Count,
		}
	}
	return in
}

// ListSchedulesResponse wraps a medication's schedules.
type ListSchedulesResponse struct {
	Schedules []domain.Schedule `json:"schedules"`
}

// AddSchedule godoc
// @ID          addSchedule
// @Summary     Add or replace a dosing schedule
// @Description With ?replace=true the medication's active schedules are deactivated first.
// @Tags        Schedules
// @Accept      json
// @Produce     json
// @Param       id       path      string                    true   "Medication ID (UUID)"  format(uuid)
// @Param       replace  query     bool                      false  "Replace active schedules"
// @Param       body     body      handlers.ScheduleRequest  true   "Schedule payload"
// @Success     201      {object}  domain.Schedule
// @Failure     400      {object}  handlers.ErrorResponse  "Invalid schedule"
// @Failure     404      {object}  handlers.ErrorResponse  "Medication not found"
// @Failure     409      {object}  handlers.ErrorResponse  "Medication archived"
// @Router      /medications/{id}/schedules [post]
func (h *Handlers) AddSchedule(c *gin.Context) {
	medID, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	add := h.schedules.Add
	if c.Query("replace") == "true" {
		add = h.schedules.Replace
	}
	sc, err := add(c.Request.Context(), medID, req.input())
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, sc)
}

// ListSchedules returns a medication's schedules; ?active=true hides
// deactivated rules.
func (h *Handlers) ListSchedules(c *gin.Context) {
	medID, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	items, err := h.schedules.List(c.Request.Context(), medID, c.Query("active") == "true")
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.Schedule{}
	}
	ok(c, http.StatusOK, ListSchedulesResponse{Schedules: items})
}

// DeactivateSchedule switches off one schedule.
func (h *Handlers) DeactivateSchedule(c *gin.Context) {
	id, okID := pathID(c, "id", "schedule")
	if !okID {
		return
	}
	sc, err := h.schedules.Deactivate(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sc)
}
