// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the DoseLog model.
//
// A dose log is keyed by (medication_id, scheduled_at); the ux_dose_slot
// unique index rejects a second row for the same slot. Callers translate that
// rejection (IsDuplicate) into their own conflict semantics.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// SlotKey identifies a dose slot.
type SlotKey struct {
	MedicationID string
	ScheduledAt  int64 // epoch ms
}

// Key returns the slot key of l.
func Key(l domain.DoseLog) SlotKey {
	return SlotKey{MedicationID: l.MedicationID, ScheduledAt: l.ScheduledAt}
}

// CreateDoseLog inserts l, assigning a UUID when l.ID is empty.
func CreateDoseLog(ctx context.Context, db *gorm.DB, l *domain.DoseLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	return db.WithContext(ctx).Create(l).Error
}

// GetDoseLogBySlot fetches the log of one slot, or ErrNotFound.
func GetDoseLogBySlot(ctx context.Context, db *gorm.DB, medicationID string, scheduledAt int64) (*domain.DoseLog, error) {
	var l domain.DoseLog
	err := db.WithContext(ctx).
		Where("medication_id = ? AND scheduled_at = ?", medicationID, scheduledAt).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetDoseLog fetches a log by id, or ErrNotFound.
func GetDoseLog(ctx context.Context, db *gorm.DB, id string) (*domain.DoseLog, error) {
	var l domain.DoseLog
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// DoseLogsBySlot loads the logs of the given medications scheduled within
// [from, to] (epoch ms) and indexes them by slot.
func DoseLogsBySlot(ctx context.Context, db *gorm.DB, medicationIDs []string, from, to int64) (map[SlotKey]domain.DoseLog, error) {
	out := make(map[SlotKey]domain.DoseLog)
	if len(medicationIDs) == 0 {
		return out, nil
	}
	var rows []domain.DoseLog
	err := db.WithContext(ctx).
		Where("medication_id IN ? AND scheduled_at BETWEEN ? AND ?", medicationIDs, from, to).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, l := range rows {
		out[Key(l)] = l
	}
	return out, nil
}

// ListDoseLogsInWindow returns a profile's logs scheduled within [from, to]
// (epoch ms), oldest first.
func ListDoseLogsInWindow(ctx context.Context, db *gorm.DB, profileID string, from, to int64) ([]domain.DoseLog, error) {
	var out []domain.DoseLog
	err := db.WithContext(ctx).
		Where("profile_id = ? AND scheduled_at BETWEEN ? AND ?", profileID, from, to).
		Order("scheduled_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountDoseLogs returns the number of logs a profile has within [from, to].
func CountDoseLogs(ctx context.Context, db *gorm.DB, profileID string, from, to int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DoseLog{}).
		Where("profile_id = ? AND scheduled_at BETWEEN ? AND ?", profileID, from, to).
		Count(&total).Error
	return total, err
}

// ListDoseLogsPage returns a page of a profile's logs within [from, to],
// newest first.
func ListDoseLogsPage(ctx context.Context, db *gorm.DB, profileID string, from, to int64, offset, limit int) ([]domain.DoseLog, error) {
	var out []domain.DoseLog
	err := db.WithContext(ctx).
		Where("profile_id = ? AND scheduled_at BETWEEN ? AND ?", profileID, from, to).
		Order("scheduled_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PromoteDelayed turns a delayed log into a taken one. It only matches rows
// still in the delayed state, so a concurrent promotion affects zero rows and
// the caller can treat it as a conflict.
func PromoteDelayed(ctx context.Context, db *gorm.DB, id string, actualAt int64, notes string) (bool, error) {
	fields := map[string]any{
		"status":     domain.StatusTaken,
		"actual_at":  actualAt,
		"updated_at": time.Now().UTC(),
	}
	if notes != "" {
		fields["notes"] = notes
	}
	res := db.WithContext(ctx).
		Model(&domain.DoseLog{}).
		Where("id = ? AND status = ?", id, domain.StatusDelayed).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOrphanDoseLogs returns logs whose medication or schedule row no longer
// exists. With foreign keys enforced this only finds rows written before the
// constraint existed or while it was disabled.
func ListOrphanDoseLogs(ctx context.Context, db *gorm.DB, limit int) ([]domain.DoseLog, error) {
	var out []domain.DoseLog
	err := db.WithContext(ctx).
		Where("medication_id NOT IN (?) OR schedule_id NOT IN (?)",
			db.Model(&domain.Medication{}).Select("id"),
			db.Model(&domain.Schedule{}).Select("id")).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteDoseLog removes a single log by id.
func DeleteDoseLog(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.DoseLog{}).Error
}
