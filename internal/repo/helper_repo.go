// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for HelperPairing.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// CreateHelperPairing inserts an active pairing for a profile.
func CreateHelperPairing(ctx context.Context, db *gorm.DB, profileID, helperName, deviceID string) (*domain.HelperPairing, error) {
	now := time.Now().UTC()
	p := &domain.HelperPairing{
		ID:             uuid.NewString(),
		ProfileID:      profileID,
		HelperName:     helperName,
		HelperDeviceID: deviceID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListHelperPairings returns a profile's pairings, oldest first.
func ListHelperPairings(ctx context.Context, db *gorm.DB, profileID string, activeOnly bool) ([]domain.HelperPairing, error) {
	q := db.WithContext(ctx).Where("profile_id = ?", profileID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []domain.HelperPairing
	err := q.Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// DeactivateHelperPairing switches off a pairing that belongs to profileID.
// Returns ErrNotFound if no row matched.
func DeactivateHelperPairing(ctx context.Context, db *gorm.DB, profileID, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.HelperPairing{}).
		Where("id = ? AND profile_id = ?", id, profileID).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
