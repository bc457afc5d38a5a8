// Package services – DoseService
//
// This file implements the dose status resolver and the transition engine.
//
// The resolver expands today's schedules and pairs every slot with its log.
// A slot without a log is pending until its grace period lapses; after that
// the resolver writes the missed log itself so the result never depends on
// the sweeper having run.
//
// The transition engine records user actions (taken, skipped, snoozed). A
// "taken" log and the inventory decrement commit in one transaction, so a
// dose can never be recorded against stock that was not there.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// Dose is the resolved state of one scheduled dose instant.
type Dose struct {
	MedicationID   string            `json:"medication_id"`
	MedicationName string            `json:"medication_name"`
	ScheduleID     string            `json:"schedule_id"`
	Slot           string            `json:"slot"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	Status         domain.DoseStatus `json:"status"`
	LogID          string            `json:"log_id,omitempty"`
	ActualAt       *time.Time        `json:"actual_at,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

// Ref returns the reference used to act on d.
func (d Dose) Ref() DoseRef {
	return DoseRef{MedicationID: d.MedicationID, ScheduleID: d.ScheduleID, ScheduledAt: d.ScheduledAt.UnixMilli()}
}

// DoseRef identifies a dose slot. ScheduledAt is epoch milliseconds.
type DoseRef struct {
	MedicationID string `json:"medication_id"`
	ScheduleID   string `json:"schedule_id"`
	ScheduledAt  int64  `json:"scheduled_at"`
}

// TransitionOption customizes a transition.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	notes string
}

// WithNotes attaches a free-text note to the written log.
func WithNotes(n string) TransitionOption {
	return func(o *transitionOpts) { o.notes = n }
}

// DoseService resolves today's doses and records user actions on them.
type DoseService struct {
	DB    *gorm.DB
	Clock Clock
	Loc   *time.Location
	Log   *zerolog.Logger

	// Health, when set, is force-recomputed after writes.
	Health *HealthService
}

func (s *DoseService) tracer() trace.Tracer { return otel.Tracer("services/DoseService") }

// ResolveToday returns every dose of the profile scheduled today (in the
// service location), ascending by time, then medication name and id.
func (s *DoseService) ResolveToday(ctx context.Context, profileID string) ([]Dose, error) {
	ctx, span := s.tracer().Start(ctx, "ResolveToday",
		trace.WithAttributes(attribute.String("profile.id", profileID)),
	)
	defer span.End()

	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	loc := orUTC(s.Loc)
	now := s.Clock.Now()
	days := []recurrence.Day{recurrence.DayOf(now, loc)}

	planned, err := planDays(ctx, s.DB, profileID, days, loc)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return []Dose{}, nil
	}
	from, to := slotRange(days, loc)
	logs, err := repo.DoseLogsBySlot(ctx, s.DB, medicationIDs(planned), from, to)
	if err != nil {
		return nil, err
	}

	out := make([]Dose, 0, len(planned))
	wrote := 0
	for _, p := range planned {
		l, logged := logs[p.key()]
		if p.early && !logged {
			continue
		}
		d := Dose{
			MedicationID:   p.med.ID,
			MedicationName: p.med.Name,
			ScheduleID:     p.sched.ID,
			Slot:           p.slot.Time,
			ScheduledAt:    p.slot.At,
			Status:         domain.StatusPending,
		}
		if logged {
			fill(&d, l, loc)
		} else if p.lapsed(now) {
			d.Status = domain.StatusMissed
			d.Notes = MissedNote
			l, werr := s.lazyMissed(ctx, p)
			switch {
			case werr != nil:
				// Reported as missed anyway; the next pass retries the write.
				loggerOr(s.Log).Warn().Err(werr).
					Str("medication_id", p.med.ID).
					Time("scheduled_at", p.slot.At).
					Msg("lazy missed-dose write failed")
			case l != nil:
				fill(&d, *l, loc)
				wrote++
			}
		}
		out = append(out, d)
	}
	span.SetAttributes(attribute.Int("doses", len(out)), attribute.Int("lazy_missed", wrote))

	if wrote > 0 {
		s.refreshHealth(ctx, profileID)
	}
	return out, nil
}

// lazyMissed writes a missed log for p. When a concurrent writer got there
// first, the existing log is returned instead.
func (s *DoseService) lazyMissed(ctx context.Context, p plannedDose) (*domain.DoseLog, error) {
	l, err := writeMissed(ctx, s.DB, p)
	if err == nil {
		missedWritten.WithLabelValues("resolver").Inc()
		return l, nil
	}
	if repo.IsDuplicate(err) {
		return repo.GetDoseLogBySlot(ctx, s.DB, p.med.ID, p.slot.At.UnixMilli())
	}
	return nil, err
}

func fill(d *Dose, l domain.DoseLog, loc *time.Location) {
	d.Status = l.Status
	d.LogID = l.ID
	d.Notes = l.Notes
	if l.ActualAt != nil {
		at := time.UnixMilli(*l.ActualAt).In(loc)
		d.ActualAt = &at
	}
}

// Transition records a user action on a dose slot. target must be taken or
// skipped. Taking a snoozed (delayed) dose promotes its log to taken.
//
// Errors:
//   - ErrInvalidTransition, ErrInvalidDoseSlot for bad input;
//   - ErrMedicationNotFound, ErrScheduleNotFound for unknown references;
//   - ErrOutOfStock, ErrMedicationPaused, ErrMedicationArchived,
//     ErrDoseAlreadyLogged when the action is refused.
func (s *DoseService) Transition(ctx context.Context, ref DoseRef, target domain.DoseStatus, opts ...TransitionOption) (*domain.DoseLog, error) {
	ctx, span := s.tracer().Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("medication.id", ref.MedicationID),
			attribute.Int64("scheduled_at", ref.ScheduledAt),
			attribute.String("target", string(target)),
		),
	)
	defer span.End()

	l, err := s.transition(ctx, ref, target, opts)
	if err != nil {
		doseRejections.WithLabelValues(reason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	doseTransitions.WithLabelValues(string(l.Status)).Inc()
	s.refreshHealth(ctx, l.ProfileID)
	return l, nil
}

func (s *DoseService) transition(ctx context.Context, ref DoseRef, target domain.DoseStatus, opts []TransitionOption) (*domain.DoseLog, error) {
	if target != domain.StatusTaken && target != domain.StatusSkipped {
		return nil, ErrInvalidTransition
	}
	var o transitionOpts
	for _, fn := range opts {
		fn(&o)
	}

	med, _, err := s.checkSlot(ctx, ref)
	if err != nil {
		return nil, err
	}
	if target == domain.StatusTaken {
		if med.Paused {
			return nil, ErrMedicationPaused
		}
		if med.CurrentCount <= 0 {
			return nil, ErrOutOfStock
		}
	}

	now := s.Clock.Now().UnixMilli()
	var out *domain.DoseLog
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.GetDoseLogBySlot(ctx, tx, ref.MedicationID, ref.ScheduledAt)
		switch {
		case err == nil:
			if existing.Status != domain.StatusDelayed || target != domain.StatusTaken {
				return ErrDoseAlreadyLogged
			}
			ok, err := repo.PromoteDelayed(ctx, tx, existing.ID, now, o.notes)
			if err != nil {
				return err
			}
			if !ok {
				return ErrDoseAlreadyLogged
			}
			existing.Status = domain.StatusTaken
			existing.ActualAt = &now
			if o.notes != "" {
				existing.Notes = o.notes
			}
			out = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			l := &domain.DoseLog{
				ProfileID:    med.ProfileID,
				MedicationID: med.ID,
				ScheduleID:   ref.ScheduleID,
				ScheduledAt:  ref.ScheduledAt,
				ActualAt:     &now,
				Status:       target,
				Notes:        o.notes,
			}
			if err := repo.CreateDoseLog(ctx, tx, l); err != nil {
				if repo.IsDuplicate(err) {
					return ErrDoseAlreadyLogged
				}
				return err
			}
			out = l
		default:
			return err
		}

		if target != domain.StatusTaken {
			return nil
		}
		ok, err := repo.DecrementInventory(ctx, tx, med.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOutOfStock
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snooze records a delayed log for a pending slot. Taking it later promotes
// the same log to taken; skipping it is refused.
func (s *DoseService) Snooze(ctx context.Context, ref DoseRef, opts ...TransitionOption) (*domain.DoseLog, error) {
	ctx, span := s.tracer().Start(ctx, "Snooze",
		trace.WithAttributes(
			attribute.String("medication.id", ref.MedicationID),
			attribute.Int64("scheduled_at", ref.ScheduledAt),
		),
	)
	defer span.End()

	var o transitionOpts
	for _, fn := range opts {
		fn(&o)
	}
	med, _, err := s.checkSlot(ctx, ref)
	if err != nil {
		doseRejections.WithLabelValues(reason(err)).Inc()
		return nil, err
	}
	if med.Paused {
		doseRejections.WithLabelValues(reason(ErrMedicationPaused)).Inc()
		return nil, ErrMedicationPaused
	}
	l := &domain.DoseLog{
		ProfileID:    med.ProfileID,
		MedicationID: med.ID,
		ScheduleID:   ref.ScheduleID,
		ScheduledAt:  ref.ScheduledAt,
		Status:       domain.StatusDelayed,
		Notes:        o.notes,
	}
	if err := repo.CreateDoseLog(ctx, s.DB, l); err != nil {
		if repo.IsDuplicate(err) {
			doseRejections.WithLabelValues(reason(ErrDoseAlreadyLogged)).Inc()
			return nil, ErrDoseAlreadyLogged
		}
		return nil, err
	}
	doseTransitions.WithLabelValues(string(domain.StatusDelayed)).Inc()
	s.refreshHealth(ctx, l.ProfileID)
	return l, nil
}

// checkSlot loads the medication and schedule of ref and verifies that ref
// is one of the schedule's expansions.
func (s *DoseService) checkSlot(ctx context.Context, ref DoseRef) (*domain.Medication, *domain.Schedule, error) {
	med, err := repo.GetMedication(ctx, s.DB, ref.MedicationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if med.Archived {
		return nil, nil, ErrMedicationArchived
	}
	sc, err := repo.GetSchedule(ctx, s.DB, ref.ScheduleID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && sc.MedicationID != med.ID) {
		return nil, nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !sc.Active {
		return nil, nil, ErrInvalidDoseSlot
	}
	loc := orUTC(s.Loc)
	spec := recurrence.Spec{Times: sc.Times, DaysOfWeek: sc.DaysOfWeek}
	if _, ok := recurrence.SlotAt(spec, time.UnixMilli(ref.ScheduledAt).In(loc), loc); !ok {
		return nil, nil, ErrInvalidDoseSlot
	}
	return med, sc, nil
}

// History returns a page of the profile's dose logs scheduled within
// [from, to], newest first, and the total count.
func (s *DoseService) History(ctx context.Context, profileID string, from, to time.Time, page, pageSize int) ([]domain.DoseLog, int64, error) {
	ctx, span := s.tracer().Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("profile.id", profileID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrProfileNotFound
		}
		return nil, 0, err
	}
	offset, limit := pageBounds(page, pageSize)
	f, t := from.UnixMilli(), to.UnixMilli()
	total, err := repo.CountDoseLogs(ctx, s.DB, profileID, f, t)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DoseLog{}, 0, nil
	}
	items, err := repo.ListDoseLogsPage(ctx, s.DB, profileID, f, t, offset, limit)
	return items, total, err
}

func (s *DoseService) refreshHealth(ctx context.Context, profileID string) {
	if s.Health == nil {
		return
	}
	if _, err := s.Health.Recompute(ctx, profileID); err != nil {
		loggerOr(s.Log).Warn().Err(err).Str("profile_id", profileID).Msg("health recompute failed")
	}
}

// reason maps an error to a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrMedicationPaused):
		return "paused"
	case errors.Is(err, ErrMedicationArchived):
		return "archived"
	case errors.Is(err, ErrDoseAlreadyLogged):
		return "already_logged"
	case errors.Is(err, ErrInvalidDoseSlot), errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrMedicationNotFound), errors.Is(err, ErrScheduleNotFound):
		return "not_found"
	default:
		return "error"
	}
}
