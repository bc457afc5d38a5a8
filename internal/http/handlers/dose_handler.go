// Dose HTTP handlers.
//
// Endpoints:
//   - GET  /profiles/{id}/doses/today   (resolved doses for the local day)
//   - GET  /profiles/{id}/doses         (history, paginated; ?from=&to= RFC 3339)
//   - POST /doses/take | skip | snooze  (idempotent with Idempotency-Key)
//
// Dose actions honor Idempotency-Key: a retried request with the same key
// returns the dose log the first request produced instead of a conflict.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/http/middleware"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
)

//
// DTOs
//

// DoseActionRequest identifies a dose slot. scheduled_at is epoch
// milliseconds, exactly as returned by the today endpoint's scheduled_at.
type DoseActionRequest struct {
	MedicationID string `json:"medication_id" binding:"required,uuid"`
	ScheduleID   string `json:"schedule_id"   binding:"required,uuid"`
	ScheduledAt  int64  `json:"scheduled_at"  binding:"required"`
	Notes        string `json:"notes"`
}

func (r DoseActionRequest) ref() services.DoseRef {
	return services.DoseRef{MedicationID: r.MedicationID, ScheduleID: r.ScheduleID, ScheduledAt: r.ScheduledAt}
}

// TodayResponse lists the doses of one local day.
type TodayResponse struct {
	Date  string          `json:"date" example:"2025-06-02"`
	Doses []services.Dose `json:"doses"`
}

// DoseHistoryResponse wraps a page of dose logs.
type DoseHistoryResponse struct {
	Logs       []domain.DoseLog `json:"logs"`
	Pagination Pagination       `json:"pagination"`
}

// Idempotency scopes for dose actions.
const (
	scopeTake   = "doses.take"
	scopeSkip   = "doses.skip"
	scopeSnooze = "doses.snooze"
)

//
// Handlers
//

// TodayDoses godoc
// @ID          todayDoses
// @Summary     Resolve today's doses
// @Description Lapsed pending doses are recorded as missed before responding.
// @Tags        Doses
// @Produce     json
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.TodayResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id}/doses/today [get]
func (h *Handlers) TodayDoses(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	doses, err := h.doses.ResolveToday(c.Request.Context(), profileID)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	if doses == nil {
		doses = []services.Dose{}
	}
	ok(c, http.StatusOK, TodayResponse{
		Date:  h.clock.Now().In(h.loc).Format(time.DateOnly),
		Doses: doses,
	})
}

// DoseHistory returns a profile's dose logs in a window (default: the last
// 30 days), newest first.
func (h *Handlers) DoseHistory(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	to := h.clock.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			badRequest(c, "from must be RFC 3339")
			return
		}
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			badRequest(c, "to must be RFC 3339")
			return
		}
	}
	if to.Before(from) {
		badRequest(c, "to must not be before from")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.doses.History(c.Request.Context(), profileID, from, to, page, pageSize)
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, DoseHistoryResponse{Logs: items, Pagination: newPagination(page, pageSize, total)})
}

// TakeDose godoc
// @ID          takeDose
// @Summary     Mark a dose as taken
// @Description Decrements inventory in the same transaction as the log write.
// @Tags        Doses
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                      false  "Retry-safe key"
// @Param       body             body    handlers.DoseActionRequest  true   "Dose slot"
// @Success     201  {object}  domain.DoseLog
// @Success     200  {object}  domain.DoseLog  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Not a scheduled dose"
// @Failure     409  {object}  handlers.ErrorResponse  "Out of stock, paused or already logged"
// @Router      /doses/take [post]
func (h *Handlers) TakeDose(c *gin.Context) {
	h.doseAction(c, scopeTake, func(req DoseActionRequest) (*domain.DoseLog, error) {
		return h.doses.Transition(c.Request.Context(), req.ref(), domain.StatusTaken, services.WithNotes(req.Notes))
	})
}

// SkipDose records a deliberate skip; inventory is untouched.
func (h *Handlers) SkipDose(c *gin.Context) {
	h.doseAction(c, scopeSkip, func(req DoseActionRequest) (*domain.DoseLog, error) {
		return h.doses.Transition(c.Request.Context(), req.ref(), domain.StatusSkipped, services.WithNotes(req.Notes))
	})
}

// SnoozeDose records a delayed dose that can still be taken later.
func (h *Handlers) SnoozeDose(c *gin.Context) {
	h.doseAction(c, scopeSnooze, func(req DoseActionRequest) (*domain.DoseLog, error) {
		return h.doses.Snooze(c.Request.Context(), req.ref(), services.WithNotes(req.Notes))
	})
}

// doseAction binds the request, serves idempotent replays, runs act and
// stores the idempotency record on success.
func (h *Handlers) doseAction(c *gin.Context, scope string, act func(DoseActionRequest) (*domain.DoseLog, error)) {
	ctx := c.Request.Context()
	var req DoseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "medication_id, schedule_id and scheduled_at are required")
		return
	}

	uid := userID(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	// Idempotency (replay path).
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, scope, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetDoseLog(ctx, h.db, rec.ResourceID); err2 == nil {
				c.Header(middleware.ReplayHeader, "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	l, err := act(req)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, uid, scope, idemKey, l.ID, http.StatusCreated, h.idemTTL); err != nil && !repo.IsDuplicate(err) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency record not stored")
		}
	}
	ok(c, http.StatusCreated, l)
}
