// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Profile model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a profile is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// CreateProfile inserts a new Profile row with a random UUID and UTC
// timestamps. On success, it returns the persisted Profile.
func CreateProfile(ctx context.Context, db *gorm.DB, displayName, avatarColor string) (*domain.Profile, error) {
	now := time.Now().UTC()
	p := &domain.Profile{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		AvatarColor: avatarColor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfile fetches a single profile by ID, or ErrNotFound if missing.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountProfiles returns the total number of profiles.
func CountProfiles(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Profile{}).Count(&total).Error
	return total, err
}

// ListProfilesPage returns a page of profiles ordered by creation time
// ascending (household order), then id for determinism.
func ListProfilesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Profile, error) {
	var out []domain.Profile
	err := db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListProfileIDs returns every profile id. The sweeper walks profiles one by
// one so a failure in one household member never blocks another.
func ListProfileIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Profile{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// UpdateProfile updates the display name and avatar color of a profile.
// Returns ErrNotFound if no row matched.
func UpdateProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarColor string) error {
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"display_name": displayName,
			"avatar_color": avatarColor,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveProfile writes p as-is (insert or full update), preserving its
// UpdatedAt. Used when a remote copy wins a last-write-wins merge.
func SaveProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(p).Error
}

// DeleteProfile removes a profile; the schema cascades to its medications,
// schedules, dose logs and health metrics. Returns ErrNotFound if missing.
func DeleteProfile(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Profile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
