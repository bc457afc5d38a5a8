package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// ScheduleService manages the dosing rules of medications. Rules are never
// edited in place: Replace deactivates the current ones and adds a new one,
// so logs written against the old rule keep their parent.
type ScheduleService struct {
	DB *gorm.DB
	// Clock stamps new rules; their slots are due from that instant.
	Clock Clock
}

// Add attaches a new active schedule to a medication.
func (s *ScheduleService) Add(ctx context.Context, medicationID string, in ScheduleInput) (*domain.Schedule, error) {
	ctx, span := otel.Tracer("services/ScheduleService").Start(ctx, "Add",
		trace.WithAttributes(attribute.String("medication.id", medicationID)),
	)
	defer span.End()

	sc, err := buildSchedule(in)
	if err != nil {
		return nil, err
	}
	sc.MedicationID = medicationID
	sc.CreatedAt = s.Clock.Now().UTC()
	sc.UpdatedAt = sc.CreatedAt
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := schedulableParent(ctx, tx, medicationID); err != nil {
			return err
		}
		return repo.CreateSchedule(ctx, tx, sc)
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Replace deactivates every active schedule of the medication and adds the
// new one in the same transaction.
func (s *ScheduleService) Replace(ctx context.Context, medicationID string, in ScheduleInput) (*domain.Schedule, error) {
	ctx, span := otel.Tracer("services/ScheduleService").Start(ctx, "Replace",
		trace.WithAttributes(attribute.String("medication.id", medicationID)),
	)
	defer span.End()

	sc, err := buildSchedule(in)
	if err != nil {
		return nil, err
	}
	sc.MedicationID = medicationID
	sc.CreatedAt = s.Clock.Now().UTC()
	sc.UpdatedAt = sc.CreatedAt
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := schedulableParent(ctx, tx, medicationID); err != nil {
			return err
		}
		if err := repo.DeactivateSchedulesFor(ctx, tx, medicationID); err != nil {
			return err
		}
		return repo.CreateSchedule(ctx, tx, sc)
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// List returns a medication's schedules, newest first.
func (s *ScheduleService) List(ctx context.Context, medicationID string, activeOnly bool) ([]domain.Schedule, error) {
	if _, err := repo.GetMedication(ctx, s.DB, medicationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}
	return repo.ListSchedules(ctx, s.DB, medicationID, activeOnly)
}

// Deactivate switches off a single schedule.
func (s *ScheduleService) Deactivate(ctx context.Context, id string) (*domain.Schedule, error) {
	if err := repo.DeactivateSchedule(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return repo.GetSchedule(ctx, s.DB, id)
}

func schedulableParent(ctx context.Context, tx *gorm.DB, medicationID string) error {
	m, err := repo.GetMedication(ctx, tx, medicationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMedicationNotFound
	}
	if err != nil {
		return err
	}
	if m.Archived {
		return ErrMedicationArchived
	}
	return nil
}
