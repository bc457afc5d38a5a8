// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., out_of_stock, dose_already_logged) are reserved
//     for business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Usage:
//   - Handlers select the most specific matching code and pass it to `fail()` along
//     with the corresponding HTTP status and message.
//   - Clients are expected to branch on these codes for programmatic error handling.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "dose_already_logged",
//     "message": "dose already logged"
//   }

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medtrack-backend/internal/http/middleware"
	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = middleware.CodeRateLimited
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidSchedule    = "invalid_schedule"
	ErrCodeOutOfStock         = "out_of_stock"
	ErrCodeMedicationPaused   = "medication_paused"
	ErrCodeMedicationArchived = "medication_archived"
	ErrCodeDoseAlreadyLogged  = "dose_already_logged"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeSweepFailed        = "sweep_failed"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// serviceError maps a service error onto the status and code clients see.
// Lookup failures become 404, validation failures 400 and state conflicts
// 409; anything else is a 500 carrying fallbackCode.
func serviceError(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrProfileNotFound),
		errors.Is(err, services.ErrMedicationNotFound),
		errors.Is(err, services.ErrScheduleNotFound),
		errors.Is(err, services.ErrHelperNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, recurrence.ErrInvalidSchedule):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSchedule, err.Error())
	case errors.Is(err, services.ErrEmptyName),
		errors.Is(err, services.ErrNameTooLong),
		errors.Is(err, services.ErrInvalidCount),
		errors.Is(err, services.ErrInvalidTherapy),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrInvalidDoseSlot):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())

	case errors.Is(err, services.ErrOutOfStock):
		fail(c, http.StatusConflict, ErrCodeOutOfStock, err.Error())
	case errors.Is(err, services.ErrMedicationPaused):
		fail(c, http.StatusConflict, ErrCodeMedicationPaused, err.Error())
	case errors.Is(err, services.ErrMedicationArchived):
		fail(c, http.StatusConflict, ErrCodeMedicationArchived, err.Error())
	case errors.Is(err, services.ErrDoseAlreadyLogged):
		fail(c, http.StatusConflict, ErrCodeDoseAlreadyLogged, err.Error())

	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
}
