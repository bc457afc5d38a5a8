// Package services – MedicationService
//
// This file implements MedicationService: medication CRUD, archive and pause
// lifecycles, refills, supply estimation and last-write-wins merging of
// medications pushed by a paired device.
//
// Inventory (current_count) is owned by the dose engine. Only Create, Refill
// and a merge that introduces a brand-new medication set it here.
package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/search"
	"github.com/tbourn/medtrack-backend/internal/syncmerge"
)

// MedicationInput carries user-editable medication metadata.
type MedicationInput struct {
	Name                string
	GenericName         string
	BrandName           string
	Strength            string
	Form                string
	InitialCount        int
	TherapyType         string
	TherapyDurationDays *int
	TherapyStart        *time.Time
}

// ScheduleInput describes a dosing rule. A nil GracePeriodMinutes applies
// domain.DefaultGracePeriodMinutes. When Times is empty and Interval is set,
// the slots are generated from the interval rule.
type ScheduleInput struct {
	Times              []string
	DaysOfWeek         []int
	GracePeriodMinutes *int
	Interval           *IntervalRule
}

// IntervalRule is "Count doses every EveryMinutes starting at Start".
type IntervalRule struct {
	Start        string
	EveryMinutes int
	Count        int
}

// Supply is an inventory forecast for one medication.
type Supply struct {
	MedicationID  string  `json:"medication_id"`
	CurrentCount  int     `json:"current_count"`
	DosesPerDay   float64 `json:"doses_per_day"`
	DaysRemaining *int    `json:"days_remaining"`
}

// MedicationService owns medication lifecycle operations.
type MedicationService struct {
	DB    *gorm.DB
	Clock Clock
	Log   *zerolog.Logger

	// NameMaxLen caps medication names by rune length.
	NameMaxLen int
	// NameLocale drives word capitalisation of medication names.
	NameLocale language.Tag
}

func (s *MedicationService) tracer() trace.Tracer { return otel.Tracer("services/MedicationService") }

// Create adds a medication for profileID and, when sched is non-nil, its
// first schedule, in one transaction. CurrentCount starts at InitialCount.
func (s *MedicationService) Create(ctx context.Context, profileID string, in MedicationInput, sched *ScheduleInput) (*domain.Medication, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("profile.id", profileID)),
	)
	defer span.End()

	now := s.Clock.Now().UTC()
	m := &domain.Medication{ProfileID: profileID, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := s.applyInput(m, in); err != nil {
		return nil, err
	}
	if in.InitialCount < 0 {
		return nil, ErrInvalidCount
	}
	m.InitialCount, m.CurrentCount = in.InitialCount, in.InitialCount

	var sc *domain.Schedule
	if sched != nil {
		var err error
		if sc, err = buildSchedule(*sched); err != nil {
			return nil, err
		}
		sc.CreatedAt, sc.UpdatedAt = now, now
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetProfile(ctx, tx, profileID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		if err := repo.CreateMedication(ctx, tx, m); err != nil {
			return err
		}
		if sc != nil {
			sc.MedicationID = m.ID
			return repo.CreateSchedule(ctx, tx, sc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a medication or ErrMedicationNotFound.
func (s *MedicationService) Get(ctx context.Context, id string) (*domain.Medication, error) {
	m, err := repo.GetMedication(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMedicationNotFound
	}
	return m, err
}

// ListPage returns a page of a profile's medications and the total count.
func (s *MedicationService) ListPage(ctx context.Context, profileID string, f repo.MedicationFilter, page, pageSize int) ([]domain.Medication, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("profile.id", profileID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrProfileNotFound
		}
		return nil, 0, err
	}
	total, err := repo.CountMedications(ctx, s.DB, profileID, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Medication{}, 0, nil
	}
	items, err := repo.ListMedicationsPage(ctx, s.DB, profileID, f, offset, limit)
	return items, total, err
}

// MedicationMatch is a medication ranked against a search query.
type MedicationMatch struct {
	Medication domain.Medication `json:"medication"`
	Score      float64           `json:"score"`
}

// labelStopwords are dosage-form words too common to tell medications apart.
var labelStopwords = []string{"tablet", "tablets", "capsule", "capsules", "mg", "ml"}

// Search ranks a profile's non-archived medications against query by name,
// generic and brand names, strength and form. At most k matches are returned.
func (s *MedicationService) Search(ctx context.Context, profileID, query string, k int) ([]MedicationMatch, error) {
	ctx, span := s.tracer().Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("profile.id", profileID),
			attribute.Int("k", k),
		),
	)
	defer span.End()

	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	meds, err := repo.ListMedicationsPage(ctx, s.DB, profileID, repo.MedicationFilter{}, 0, -1)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Medication, len(meds))
	docs := make([]search.Doc, 0, len(meds))
	for _, m := range meds {
		byID[m.ID] = m
		docs = append(docs, search.Doc{
			ID:   m.ID,
			Text: strings.Join([]string{m.Name, m.GenericName, m.BrandName, m.Strength, m.Form}, " "),
		})
	}

	hits := search.NewIndex(docs, search.WithStopwords(labelStopwords)).TopK(query, k)
	out := make([]MedicationMatch, 0, len(hits))
	for _, h := range hits {
		out = append(out, MedicationMatch{Medication: byID[h.ID], Score: h.Score})
	}
	span.SetAttributes(attribute.Int("matches", len(out)))
	return out, nil
}

// Update replaces the descriptive metadata of a medication. Counts are not
// touched; use Refill to add stock.
func (s *MedicationService) Update(ctx context.Context, id string, in MedicationInput) (*domain.Medication, error) {
	var m domain.Medication
	if err := s.applyInput(&m, in); err != nil {
		return nil, err
	}
	return s.update(ctx, id, map[string]any{
		"name":                  m.Name,
		"generic_name":          m.GenericName,
		"brand_name":            m.BrandName,
		"strength":              m.Strength,
		"form":                  m.Form,
		"therapy_type":          m.TherapyType,
		"therapy_duration_days": m.TherapyDurationDays,
		"therapy_start":         m.TherapyStart,
	})
}

// Archive hides a medication from today's doses and the default listing.
// Inventory and history are preserved.
func (s *MedicationService) Archive(ctx context.Context, id string) (*domain.Medication, error) {
	now := s.Clock.Now().UTC()
	return s.update(ctx, id, map[string]any{"archived": true, "archived_at": &now})
}

// Unarchive restores an archived medication.
func (s *MedicationService) Unarchive(ctx context.Context, id string) (*domain.Medication, error) {
	return s.update(ctx, id, map[string]any{"archived": false, "archived_at": nil})
}

// Pause suspends dose generation for a medication with an optional reason.
func (s *MedicationService) Pause(ctx context.Context, id, reason string) (*domain.Medication, error) {
	now := s.Clock.Now().UTC()
	return s.update(ctx, id, map[string]any{
		"paused":       true,
		"paused_at":    &now,
		"pause_reason": strings.TrimSpace(reason),
	})
}

// Resume lifts a pause.
func (s *MedicationService) Resume(ctx context.Context, id string) (*domain.Medication, error) {
	now := s.Clock.Now().UTC()
	return s.update(ctx, id, map[string]any{"paused": false, "paused_at": nil, "pause_reason": "", "resumed_at": &now})
}

// Refill adds qty units to the medication's current count.
func (s *MedicationService) Refill(ctx context.Context, id string, qty int) (*domain.Medication, error) {
	ctx, span := s.tracer().Start(ctx, "Refill",
		trace.WithAttributes(attribute.String("medication.id", id), attribute.Int("qty", qty)),
	)
	defer span.End()

	if qty <= 0 {
		return nil, ErrInvalidCount
	}
	if err := repo.AddInventory(ctx, s.DB, id, qty); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete hard-deletes a medication with its schedules and dose history.
// Archiving is preferred; deletions are logged.
func (s *MedicationService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteMedication(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMedicationNotFound
		}
		return err
	}
	loggerOr(s.Log).Warn().Str("medication_id", id).Msg("medication hard-deleted with its dose history")
	return nil
}

// Supply forecasts how long the remaining stock lasts at the rate of the
// active schedules. DaysRemaining is nil when nothing is scheduled.
func (s *MedicationService) Supply(ctx context.Context, id string) (*Supply, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scheds, err := repo.ListSchedules(ctx, s.DB, id, true)
	if err != nil {
		return nil, err
	}
	return supplyFor(m, scheds), nil
}

func supplyFor(m *domain.Medication, scheds []domain.Schedule) *Supply {
	perWeek := 0
	for _, sc := range scheds {
		perWeek += recurrence.DosesPerWeek(recurrence.Spec{Times: sc.Times, DaysOfWeek: sc.DaysOfWeek})
	}
	out := &Supply{MedicationID: m.ID, CurrentCount: m.CurrentCount}
	if perWeek == 0 {
		return out
	}
	out.DosesPerDay = float64(perWeek) / 7
	days := int(math.Floor(float64(m.CurrentCount) / out.DosesPerDay))
	out.DaysRemaining = &days
	return out
}

// Merge reconciles a medication pushed by another device with the local
// copy using last-write-wins. A winning remote copy never overwrites the
// local current_count: inventory only moves through dose transitions and
// refills on this device.
func (s *MedicationService) Merge(ctx context.Context, remote domain.Medication) (syncmerge.Resolution[domain.Medication], error) {
	ctx, span := s.tracer().Start(ctx, "Merge",
		trace.WithAttributes(attribute.String("medication.id", remote.ID)),
	)
	defer span.End()

	var res syncmerge.Resolution[domain.Medication]
	if remote.ID == "" {
		return res, ErrMedicationNotFound
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		local, err := repo.GetMedication(ctx, tx, remote.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if _, perr := repo.GetProfile(ctx, tx, remote.ProfileID); perr != nil {
				if errors.Is(perr, gorm.ErrRecordNotFound) {
					return ErrProfileNotFound
				}
				return perr
			}
			if remote.CurrentCount < 0 {
				return ErrInvalidCount
			}
			res = syncmerge.Resolution[domain.Medication]{Value: remote, Winner: syncmerge.Remote}
		case err != nil:
			return err
		default:
			res = syncmerge.Resolve(*local, remote)
			if res.RemoteWon() {
				res.Value.CurrentCount = local.CurrentCount
				res.Value.ProfileID = local.ProfileID
			}
		}
		if !res.RemoteWon() {
			return nil
		}
		v := res.Value
		return repo.SaveMedication(ctx, tx, &v)
	})
	return res, err
}

// ArchiveExpired archives limited therapies whose window has elapsed at now.
// It returns the ids it archived.
func (s *MedicationService) ArchiveExpired(ctx context.Context, now time.Time) ([]string, error) {
	meds, err := repo.ListLimitedTherapies(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	var archived []string
	for _, m := range meds {
		end := m.TherapyEnd()
		if end == nil || now.Before(*end) {
			continue
		}
		at := now.UTC()
		if err := repo.UpdateMedicationFields(ctx, s.DB, m.ID, map[string]any{"archived": true, "archived_at": &at}); err != nil {
			loggerOr(s.Log).Warn().Err(err).Str("medication_id", m.ID).Msg("archive expired therapy failed")
			continue
		}
		archived = append(archived, m.ID)
	}
	return archived, nil
}

func (s *MedicationService) update(ctx context.Context, id string, fields map[string]any) (*domain.Medication, error) {
	if err := repo.UpdateMedicationFields(ctx, s.DB, id, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *MedicationService) applyInput(m *domain.Medication, in MedicationInput) error {
	name, err := checkName(in.Name, s.NameMaxLen)
	if err != nil {
		return err
	}
	m.Name = titleName(name, s.NameLocale)
	m.GenericName = normalizeName(in.GenericName)
	m.BrandName = normalizeName(in.BrandName)
	m.Strength = strings.TrimSpace(in.Strength)
	m.Form = strings.TrimSpace(in.Form)

	switch in.TherapyType {
	case "":
		if in.TherapyDurationDays != nil {
			return ErrInvalidTherapy
		}
	case domain.TherapyOngoing:
		if in.TherapyDurationDays != nil {
			return ErrInvalidTherapy
		}
	case domain.TherapyLimited:
		if in.TherapyDurationDays == nil || *in.TherapyDurationDays <= 0 {
			return ErrInvalidTherapy
		}
	default:
		return ErrInvalidTherapy
	}
	m.TherapyType = in.TherapyType
	m.TherapyDurationDays = in.TherapyDurationDays
	m.TherapyStart = in.TherapyStart
	if m.TherapyType == domain.TherapyLimited && m.TherapyStart == nil {
		start := s.Clock.Now().UTC()
		m.TherapyStart = &start
	}
	return nil
}

// buildSchedule validates and normalizes a schedule input.
func buildSchedule(in ScheduleInput) (*domain.Schedule, error) {
	grace := domain.DefaultGracePeriodMinutes
	if in.GracePeriodMinutes != nil {
		grace = *in.GracePeriodMinutes
	}
	times := in.Times
	if len(times) == 0 && in.Interval != nil {
		var err error
		if times, err = recurrence.Interval(in.Interval.Start, in.Interval.EveryMinutes, in.Interval.Count); err != nil {
			return nil, err
		}
	}
	if err := recurrence.Validate(times, in.DaysOfWeek, grace); err != nil {
		return nil, err
	}
	return &domain.Schedule{
		Times:              recurrence.Normalize(times),
		DaysOfWeek:         recurrence.NormalizeDays(in.DaysOfWeek),
		GracePeriodMinutes: grace,
		Active:             true,
	}, nil
}
