// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the missed-dose outbox.
//
// Events are written in the same transaction as the missed DoseLog they
// describe and are drained later by the dispatcher. The unique dose_log_id
// index keeps emission to one event per missed dose.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// CreateMissedDoseEvent enqueues an event for the missed log l.
func CreateMissedDoseEvent(ctx context.Context, db *gorm.DB, l *domain.DoseLog) (*domain.MissedDoseEvent, error) {
	ev := &domain.MissedDoseEvent{
		ID:           uuid.NewString(),
		DoseLogID:    l.ID,
		ProfileID:    l.ProfileID,
		MedicationID: l.MedicationID,
		ScheduledAt:  l.ScheduledAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListPendingEvents returns undispatched events that have been attempted
// fewer than maxAttempts times, oldest first.
func ListPendingEvents(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]domain.MissedDoseEvent, error) {
	var out []domain.MissedDoseEvent
	err := db.WithContext(ctx).
		Where("dispatched_at IS NULL AND attempts < ?", maxAttempts).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountPendingEvents returns the number of undispatched events.
func CountPendingEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.MissedDoseEvent{}).Where("dispatched_at IS NULL").Count(&n).Error
	return n, err
}

// MarkEventDispatched stamps an event as delivered.
func MarkEventDispatched(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.MissedDoseEvent{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		Updates(map[string]any{
			"dispatched_at": at.UTC(),
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    "",
		}).Error
}

// MarkEventFailed records a failed delivery attempt.
func MarkEventFailed(ctx context.Context, db *gorm.DB, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return db.WithContext(ctx).
		Model(&domain.MissedDoseEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
}

// DeliveredHelpers returns the ids of helpers already notified of event id.
func DeliveredHelpers(ctx context.Context, db *gorm.DB, id string) (map[string]bool, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.EventDelivery{}).
		Where("event_id = ?", id).
		Pluck("helper_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, h := range ids {
		out[h] = true
	}
	return out, nil
}

// RecordDelivery notes that helperID was notified of event id. Recording the
// same pair twice is a no-op.
func RecordDelivery(ctx context.Context, db *gorm.DB, id, helperID string, at time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.EventDelivery{EventID: id, HelperID: helperID, DeliveredAt: at.UTC()}).Error
}
