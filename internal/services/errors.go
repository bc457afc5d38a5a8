// Package services defines the business logic for profiles, medications,
// schedules, dose tracking and adherence metrics. This file centralizes
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Lookup errors.
var (
	// ErrProfileNotFound indicates that the requested profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrMedicationNotFound indicates that the requested medication does not
	// exist or belongs to another profile.
	ErrMedicationNotFound = errors.New("medication not found")

	// ErrScheduleNotFound indicates that the requested schedule does not exist
	// or does not belong to the medication.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrHelperNotFound indicates that the helper pairing does not exist.
	ErrHelperNotFound = errors.New("helper pairing not found")
)

// Validation errors.
var (
	// ErrEmptyName is returned when a profile or medication name is blank.
	ErrEmptyName = errors.New("name is empty")

	// ErrNameTooLong is returned when a name exceeds the configured limit.
	ErrNameTooLong = errors.New("name too long")

	// ErrInvalidCount is returned for negative inventory counts or
	// non-positive refill quantities.
	ErrInvalidCount = errors.New("invalid count")

	// ErrInvalidTherapy is returned for inconsistent therapy metadata.
	ErrInvalidTherapy = errors.New("invalid therapy")

	// ErrInvalidTransition is returned when a transition target is neither
	// taken nor skipped.
	ErrInvalidTransition = errors.New("invalid dose transition")

	// ErrInvalidDoseSlot is returned when the referenced instant is not one of
	// the schedule's expansions.
	ErrInvalidDoseSlot = errors.New("not a scheduled dose")
)

// Conflict errors.
var (
	// ErrOutOfStock is returned when a dose cannot be taken because the
	// medication has no remaining inventory.
	ErrOutOfStock = errors.New("medication out of stock")

	// ErrMedicationPaused is returned when taking a dose of a paused
	// medication.
	ErrMedicationPaused = errors.New("medication is paused")

	// ErrMedicationArchived is returned when modifying the schedule of an
	// archived medication.
	ErrMedicationArchived = errors.New("medication is archived")

	// ErrDoseAlreadyLogged is returned when a dose slot already has a log.
	ErrDoseAlreadyLogged = errors.New("dose already logged")
)
