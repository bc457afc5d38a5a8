// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the cached health summary store.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// GetHealthMetrics returns the cached summary of a profile, or ErrNotFound.
func GetHealthMetrics(ctx context.Context, db *gorm.DB, profileID string) (*domain.HealthMetrics, error) {
	var m domain.HealthMetrics
	if err := db.WithContext(ctx).Where("profile_id = ?", profileID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertHealthMetrics stores m, replacing any previous summary of the profile.
func UpsertHealthMetrics(ctx context.Context, db *gorm.DB, m *domain.HealthMetrics) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "profile_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "streak", "adherence_percent", "missed_count", "last_calculated"}),
		}).
		Create(m).Error
}
