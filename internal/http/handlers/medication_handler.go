// Medication HTTP handlers.
//
// Endpoints:
//   - POST   /profiles/{id}/medications      (create, optional first schedule)
//   - GET    /profiles/{id}/medications      (list; ?status=active|archived|all)
//   - GET    /profiles/{id}/medications/search?q=
//   - GET    /medications/{id}
//   - PUT    /medications/{id}               (metadata only; counts untouched)
//   - DELETE /medications/{id}               (hard delete, discouraged)
//   - POST   /medications/{id}/archive | unarchive | pause | resume | refill
//   - GET    /medications/{id}/supply
//   - POST   /sync/medications               (last-write-wins merge)
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
)

//
// DTOs
//

// MedicationRequest is the JSON payload for creating or updating a
// medication. InitialCount and Schedule are only read on create.
type MedicationRequest struct {
	Name                string           `json:"name"                  binding:"required" example:"Metformin"`
	GenericName         string           `json:"generic_name"          example:"metformin hydrochloride"`
	BrandName           string           `json:"brand_name"            example:"Glucophage"`
	Strength            string           `json:"strength"              example:"500 mg"`
	Form                string           `json:"form"                  example:"tablet"`
	InitialCount        int              `json:"initial_count"         example:"60"`
	TherapyType         string           `json:"therapy_type"          example:"limited"`
	TherapyDurationDays *int             `json:"therapy_duration_days" example:"10"`
	TherapyStart        *time.Time       `json:"therapy_start"`
	Schedule            *ScheduleRequest `json:"schedule,omitempty"`
}

func (r MedicationRequest) input() services.MedicationInput {
	return services.MedicationInput{
		Name:                r.Name,
		GenericName:         r.GenericName,
		BrandName:           r.BrandName,
		Strength:            r.Strength,
		Form:                r.Form,
		InitialCount:        r.InitialCount,
		TherapyType:         r.TherapyType,
		TherapyDurationDays: r.TherapyDurationDays,
		TherapyStart:        r.TherapyStart,
	}
}

// ListMedicationsResponse wraps a page of medications.
type ListMedicationsResponse struct {
	Medications []domain.Medication `json:"medications"`
	Pagination  Pagination          `json:"pagination"`
}

// PauseRequest carries an optional pause reason.
type PauseRequest struct {
	Reason string `json:"reason" example:"travelling"`
}

// RefillRequest adds stock to a medication.
type RefillRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1" example:"30"`
}

//
// Handlers
//

// CreateMedication godoc
// @ID          createMedication
// @Summary     Add a medication to a profile
// @Tags        Medications
// @Accept      json
// @Produce     json
// @Param       id    path      string                      true  "Profile ID (UUID)"  format(uuid)
// @Param       body  body      handlers.MedicationRequest  true  "Medication payload"
// @Success     201   {object}  domain.Medication
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404   {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id}/medications [post]
func (h *Handlers) CreateMedication(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	var req MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name required")
		return
	}
	var sched *services.ScheduleInput
	if req.Schedule != nil {
		in := req.Schedule.input()
		sched = &in
	}
	m, err := h.medications.Create(c.Request.Context(), profileID, req.input(), sched)
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, m)
}

// SearchMedicationsResponse is returned by SearchMedications.
type SearchMedicationsResponse struct {
	Matches []services.MedicationMatch `json:"matches"`
}

// SearchMedications godoc
// @ID          searchMedications
// @Summary     Find a profile's medications by name, brand or strength
// @Tags        Medications
// @Produce     json
// @Param       id  path   string  true   "Profile ID (UUID)"  format(uuid)
// @Param       q   query  string  true   "Free-text query; prefixes of 3+ letters match"
// @Param       k   query  int     false  "Max matches"  minimum(1) maximum(20) default(5)
// @Success     200  {object} handlers.SearchMedicationsResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing query"
// @Failure     404  {object} handlers.ErrorResponse "Profile not found"
// @Router      /profiles/{id}/medications/search [get]
func (h *Handlers) SearchMedications(c *gin.Context) {
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required")
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || k < 1 || k > 20 {
		badRequest(c, "k must be between 1 and 20")
		return
	}

	matches, err := h.medications.Search(c.Request.Context(), profileID, q, k)
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, SearchMedicationsResponse{Matches: matches})
}

// ListMedications godoc
// @ID          listMedications
// @Summary     List a profile's medications (paginated)
// @Tags        Medications
// @Produce     json
// @Param       id         path   string  true   "Profile ID (UUID)"  format(uuid)
// @Param       status     query  string  false  "active (default), archived or all"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMedicationsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Profile not found"
// @Router      /profiles/{id}/medications [get]
func (h *Handlers) ListMedications(c *gin.Context) {
	ctx := c.Request.Context()
	profileID, okID := pathID(c, "id", "profile")
	if !okID {
		return
	}

	var f repo.MedicationFilter
	switch status := c.DefaultQuery("status", "active"); status {
	case "active":
	case "archived":
		f.ArchivedOnly = true
	case "all":
		f.IncludeArchived = true
	default:
		badRequest(c, "status must be active, archived or all")
		return
	}
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if count, maxTS, err := repo.MedicationsStats(ctx, h.db, profileID); err == nil {
			if notModified(c, weakETag("medications", profileID+":"+c.DefaultQuery("status", "active"), count, maxTS)) {
				return
			}
		}
	}

	items, total, err := h.medications.ListPage(ctx, profileID, f, page, pageSize)
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMedicationsResponse{
		Medications: items,
		Pagination:  newPagination(page, pageSize, total),
	})
}

// GetMedication returns one medication.
func (h *Handlers) GetMedication(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	m, err := h.medications.Get(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// UpdateMedication replaces descriptive metadata and therapy settings.
func (h *Handlers) UpdateMedication(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	var req MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name required")
		return
	}
	m, err := h.medications.Update(c.Request.Context(), id, req.input())
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMedication hard-deletes a medication with its history.
func (h *Handlers) DeleteMedication(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	if err := h.medications.Delete(c.Request.Context(), id); err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// ArchiveMedication hides a medication from today's doses.
func (h *Handlers) ArchiveMedication(c *gin.Context) {
	h.medicationAction(c, h.medications.Archive)
}

// UnarchiveMedication restores an archived medication.
func (h *Handlers) UnarchiveMedication(c *gin.Context) {
	h.medicationAction(c, h.medications.Unarchive)
}

// ResumeMedication lifts a pause.
func (h *Handlers) ResumeMedication(c *gin.Context) {
	h.medicationAction(c, h.medications.Resume)
}

// PauseMedication godoc
// @ID          pauseMedication
// @Summary     Pause dose generation
// @Tags        Medications
// @Accept      json
// @Produce     json
// @Param       id    path      string                 true   "Medication ID (UUID)"  format(uuid)
// @Param       body  body      handlers.PauseRequest  false  "Optional reason"
// @Success     200   {object}  domain.Medication
// @Failure     404   {object}  handlers.ErrorResponse  "Medication not found"
// @Router      /medications/{id}/pause [post]
func (h *Handlers) PauseMedication(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	var req PauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}
	m, err := h.medications.Pause(c.Request.Context(), id, req.Reason)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// RefillMedication adds stock.
func (h *Handlers) RefillMedication(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	var req RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity must be a positive integer")
		return
	}
	m, err := h.medications.Refill(c.Request.Context(), id, req.Quantity)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// MedicationSupply forecasts how long current stock lasts.
func (h *Handlers) MedicationSupply(c *gin.Context) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	s, err := h.medications.Supply(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, s)
}

// SyncMedication merges a medication pushed by a paired device. The server's
// current_count always survives.
func (h *Handlers) SyncMedication(c *gin.Context) {
	var req domain.Medication
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || req.ProfileID == "" || req.UpdatedAt.IsZero() {
		badRequest(c, "id, profile_id and updated_at are required")
		return
	}
	res, err := h.medications.Merge(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, SyncResponse[domain.Medication]{Winner: res.Winner.String(), Value: res.Value})
}

func (h *Handlers) medicationAction(c *gin.Context, fn func(ctx context.Context, id string) (*domain.Medication, error)) {
	id, okID := pathID(c, "id", "medication")
	if !okID {
		return
	}
	m, err := fn(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}
