// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers wiring and the request helpers shared by every endpoint group
// (profiles, medications, schedules, doses, health, helpers, admin).
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
	"github.com/tbourn/medtrack-backend/internal/syncmerge"
	"github.com/tbourn/medtrack-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ProfileService defines household member operations.
type ProfileService interface {
	Create(ctx context.Context, displayName, avatarColor string) (*domain.Profile, error)
	Get(ctx context.Context, id string) (*domain.Profile, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Profile, int64, error)
	Update(ctx context.Context, id, displayName, avatarColor string) (*domain.Profile, error)
	Delete(ctx context.Context, id string) error
	Merge(ctx context.Context, remote domain.Profile) (syncmerge.Resolution[domain.Profile], error)
}

// MedicationService defines medication lifecycle and inventory operations.
type MedicationService interface {
	Create(ctx context.Context, profileID string, in services.MedicationInput, sched *services.ScheduleInput) (*domain.Medication, error)
	Get(ctx context.Context, id string) (*domain.Medication, error)
	ListPage(ctx context.Context, profileID string, f repo.MedicationFilter, page, pageSize int) ([]domain.Medication, int64, error)
	Search(ctx context.Context, profileID, query string, k int) ([]services.MedicationMatch, error)
	Update(ctx context.Context, id string, in services.MedicationInput) (*domain.Medication, error)
	Archive(ctx context.Context, id string) (*domain.Medication, error)
	Unarchive(ctx context.Context, id string) (*domain.Medication, error)
	Pause(ctx context.Context, id, reason string) (*domain.Medication, error)
	Resume(ctx context.Context, id string) (*domain.Medication, error)
	Refill(ctx context.Context, id string, qty int) (*domain.Medication, error)
	Delete(ctx context.Context, id string) error
	Supply(ctx context.Context, id string) (*services.Supply, error)
	Merge(ctx context.Context, remote domain.Medication) (syncmerge.Resolution[domain.Medication], error)
}

// ScheduleService defines dosing rule operations.
type ScheduleService interface {
	Add(ctx context.Context, medicationID string, in services.ScheduleInput) (*domain.Schedule, error)
	Replace(ctx context.Context, medicationID string, in services.ScheduleInput) (*domain.Schedule, error)
	List(ctx context.Context, medicationID string, activeOnly bool) ([]domain.Schedule, error)
	Deactivate(ctx context.Context, id string) (*domain.Schedule, error)
}

// DoseService defines dose resolution and user actions on doses.
type DoseService interface {
	ResolveToday(ctx context.Context, profileID string) ([]services.Dose, error)
	Transition(ctx context.Context, ref services.DoseRef, target domain.DoseStatus, opts ...services.TransitionOption) (*domain.DoseLog, error)
	Snooze(ctx context.Context, ref services.DoseRef, opts ...services.TransitionOption) (*domain.DoseLog, error)
	History(ctx context.Context, profileID string, from, to time.Time, page, pageSize int) ([]domain.DoseLog, int64, error)
}

// HealthService defines adherence summary operations.
type HealthService interface {
	Get(ctx context.Context, profileID string) (*domain.HealthMetrics, error)
	Recompute(ctx context.Context, profileID string) (*domain.HealthMetrics, error)
}

// HelperService defines caregiver pairing operations.
type HelperService interface {
	Register(ctx context.Context, profileID, helperName, deviceID string) (*domain.HelperPairing, error)
	List(ctx context.Context, profileID string, activeOnly bool) ([]domain.HelperPairing, error)
	Deactivate(ctx context.Context, profileID, id string) error
}

// Sweeper runs one missed-dose sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
}

//
// Handler wiring
//

// Deps carries everything New needs. DB backs idempotency records and list
// ETags; when nil both features are skipped.
type Deps struct {
	Profiles    ProfileService
	Medications MedicationService
	Schedules   ScheduleService
	Doses       DoseService
	Health      HealthService
	Helpers     HelperService
	Sweeper     Sweeper

	DB             *gorm.DB
	IdempotencyTTL time.Duration
	Loc            *time.Location
	// Clock dates the today view and the default history window. It must
	// match the services' clock. Nil reads the wall clock.
	Clock services.Clock
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	profiles    ProfileService
	medications MedicationService
	schedules   ScheduleService
	doses       DoseService
	health      HealthService
	helpers     HelperService
	sweeper     Sweeper

	db      *gorm.DB
	idemTTL time.Duration
	loc     *time.Location
	clock   services.Clock
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	loc := d.Loc
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{
		profiles:    d.Profiles,
		medications: d.Medications,
		schedules:   d.Schedules,
		doses:       d.Doses,
		health:      d.Health,
		helpers:     d.Helpers,
		sweeper:     d.Sweeper,
		db:          d.DB,
		idemTTL:     ttl,
		loc:         loc,
		clock:       d.Clock,
	}
}

// userID extracts the caller id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header and finally
// to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// pathID reads a UUID path parameter. It writes a 400 and returns false when
// the value is malformed.
func pathID(c *gin.Context, name, what string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		badRequest(c, what+" id must be a UUID")
		return "", false
	}
	return id, true
}
