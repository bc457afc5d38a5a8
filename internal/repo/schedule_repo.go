// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Schedule model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// CreateSchedule inserts s, assigning a UUID when s.ID is empty.
func CreateSchedule(ctx context.Context, db *gorm.DB, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return db.WithContext(ctx).Create(s).Error
}

// GetSchedule fetches a schedule by id, or ErrNotFound.
func GetSchedule(ctx context.Context, db *gorm.DB, id string) (*domain.Schedule, error) {
	var s domain.Schedule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSchedules returns the schedules of a medication, newest first.
func ListSchedules(ctx context.Context, db *gorm.DB, medicationID string, activeOnly bool) ([]domain.Schedule, error) {
	var out []domain.Schedule
	q := db.WithContext(ctx).Where("medication_id = ?", medicationID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Order("created_at DESC, id ASC").Find(&out).Error
	return out, err
}

// ListActiveSchedulesFor returns the active schedules of all given
// medications, grouped by medication id.
func ListActiveSchedulesFor(ctx context.Context, db *gorm.DB, medicationIDs []string) (map[string][]domain.Schedule, error) {
	out := make(map[string][]domain.Schedule, len(medicationIDs))
	if len(medicationIDs) == 0 {
		return out, nil
	}
	var rows []domain.Schedule
	err := db.WithContext(ctx).
		Where("medication_id IN ? AND active = ?", medicationIDs, true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.MedicationID] = append(out[s.MedicationID], s)
	}
	return out, nil
}

// DeactivateSchedule marks a schedule inactive. Returns ErrNotFound if missing.
func DeactivateSchedule(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateSchedulesFor marks every active schedule of a medication inactive.
func DeactivateSchedulesFor(ctx context.Context, db *gorm.DB, medicationID string) error {
	return db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("medication_id = ? AND active = ?", medicationID, true).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()}).Error
}
