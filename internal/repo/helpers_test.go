package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDB(t, Models()...)
}

type fixture struct {
	profile  *domain.Profile
	med      *domain.Medication
	schedule *domain.Schedule
}

func seed(t *testing.T, db *gorm.DB, count int) fixture {
	t.Helper()
	ctx := context.Background()
	p, err := CreateProfile(ctx, db, "Ana", "#112233")
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	m := &domain.Medication{ProfileID: p.ID, Name: "Aspirin", InitialCount: count, CurrentCount: count, Active: true}
	if err := CreateMedication(ctx, db, m); err != nil {
		t.Fatalf("seed medication: %v", err)
	}
	s := &domain.Schedule{MedicationID: m.ID, Times: []string{"08:00", "20:00"}, GracePeriodMinutes: 30, Active: true}
	if err := CreateSchedule(ctx, db, s); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return fixture{profile: p, med: m, schedule: s}
}

func logFor(f fixture, at int64, status domain.DoseStatus) *domain.DoseLog {
	return &domain.DoseLog{
		ProfileID:    f.profile.ID,
		MedicationID: f.med.ID,
		ScheduleID:   f.schedule.ID,
		ScheduledAt:  at,
		Status:       status,
	}
}
