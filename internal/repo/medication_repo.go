// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Medication
// model, including the guarded inventory decrement used by dose transitions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// MedicationFilter narrows medication listings.
type MedicationFilter struct {
	// IncludeArchived also returns archived medications.
	IncludeArchived bool
	// ArchivedOnly returns only archived medications (implies IncludeArchived).
	ArchivedOnly bool
}

func (f MedicationFilter) apply(q *gorm.DB) *gorm.DB {
	switch {
	case f.ArchivedOnly:
		return q.Where("archived = ?", true)
	case f.IncludeArchived:
		return q
	default:
		return q.Where("archived = ?", false)
	}
}

// CreateMedication inserts m, assigning a UUID when m.ID is empty.
func CreateMedication(ctx context.Context, db *gorm.DB, m *domain.Medication) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return db.WithContext(ctx).Create(m).Error
}

// GetMedication fetches a medication by id, or ErrNotFound.
func GetMedication(ctx context.Context, db *gorm.DB, id string) (*domain.Medication, error) {
	var m domain.Medication
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMedications returns how many medications of profileID match f.
func CountMedications(ctx context.Context, db *gorm.DB, profileID string, f MedicationFilter) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Medication{}).Where("profile_id = ?", profileID)
	err := f.apply(q).Count(&total).Error
	return total, err
}

// ListMedicationsPage returns a page of a profile's medications ordered by
// name, then id.
func ListMedicationsPage(ctx context.Context, db *gorm.DB, profileID string, f MedicationFilter, offset, limit int) ([]domain.Medication, error) {
	var out []domain.Medication
	q := db.WithContext(ctx).Where("profile_id = ?", profileID)
	err := f.apply(q).
		Order("name ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListSchedulableMedications returns the medications of profileID whose doses
// should be expanded: active, not archived, not paused.
func ListSchedulableMedications(ctx context.Context, db *gorm.DB, profileID string) ([]domain.Medication, error) {
	var out []domain.Medication
	err := db.WithContext(ctx).
		Where("profile_id = ? AND active = ? AND archived = ? AND paused = ?", profileID, true, false, false).
		Order("name ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListLimitedTherapies returns non-archived medications with a limited
// therapy window. The window arithmetic happens in Go.
func ListLimitedTherapies(ctx context.Context, db *gorm.DB) ([]domain.Medication, error) {
	var out []domain.Medication
	err := db.WithContext(ctx).
		Where("therapy_type = ? AND archived = ?", domain.TherapyLimited, false).
		Find(&out).Error
	return out, err
}

// UpdateMedicationFields applies a partial update and bumps updated_at.
// Returns ErrNotFound if no row matched.
func UpdateMedicationFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Medication{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DecrementInventory takes one unit from a medication's current_count, only
// if at least one remains. It reports whether a unit was taken; false means
// the medication is missing or out of stock. Call it inside the same
// transaction as the dose log write.
func DecrementInventory(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Medication{}).
		Where("id = ? AND current_count > 0", id).
		Updates(map[string]any{
			"current_count": gorm.Expr("current_count - 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddInventory adds qty (> 0) units to current_count. Returns ErrNotFound if
// the medication does not exist.
func AddInventory(ctx context.Context, db *gorm.DB, id string, qty int) error {
	return UpdateMedicationFields(ctx, db, id, map[string]any{
		"current_count": gorm.Expr("current_count + ?", qty),
	})
}

// SaveMedication upserts m as-is, keeping its timestamps. Used when a remote
// copy wins a last-write-wins merge.
func SaveMedication(ctx context.Context, db *gorm.DB, m *domain.Medication) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

// DeleteMedication hard-deletes a medication and, via cascade, its schedules
// and dose history. Returns ErrNotFound if missing.
func DeleteMedication(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Medication{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
