package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// testLoc is a fixed +01:00 zone so local-day arithmetic is exercised.
var testLoc = time.FixedZone("T+1", 3600)

// at returns 2025-06-02 (a Monday) hh:mm in testLoc, shifted by dayOffset.
func at(dayOffset, hh, mm int) time.Time {
	return time.Date(2025, 6, 2+dayOffset, hh, mm, 0, 0, testLoc)
}

var nopLog = zerolog.Nop()

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// mutableClock is a settable test clock.
type mutableClock struct{ now time.Time }

func (c *mutableClock) Clock() Clock { return func() time.Time { return c.now } }

type env struct {
	db     *gorm.DB
	clock  *mutableClock
	doses  *DoseService
	health *HealthService
	meds   *MedicationService
	scheds *ScheduleService
	sweep  *Sweeper
	disp   *Dispatcher
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	db := newSvcDB(t)
	mc := &mutableClock{now: now}
	e := &env{db: db, clock: mc}
	e.health = &HealthService{DB: db, Clock: mc.Clock(), Loc: testLoc}
	e.doses = &DoseService{DB: db, Clock: mc.Clock(), Loc: testLoc, Log: &nopLog, Health: e.health}
	e.meds = &MedicationService{DB: db, Clock: mc.Clock(), Log: &nopLog, NameMaxLen: 255}
	e.scheds = &ScheduleService{DB: db, Clock: mc.Clock()}
	e.disp = &Dispatcher{DB: db, Notifier: LogNotifier{Log: &nopLog}, Clock: mc.Clock(), Log: &nopLog}
	e.sweep = &Sweeper{DB: db, Clock: mc.Clock(), Loc: testLoc, Log: &nopLog, Medications: e.meds, Health: e.health, Dispatcher: e.disp}
	return e
}

func (e *env) profile(t *testing.T) *domain.Profile {
	t.Helper()
	p, err := repo.CreateProfile(context.Background(), e.db, "Ana", DefaultAvatarColor)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	return p
}

// setupAt is when fixtures are created: a week before the test day, so the
// slots a test looks at are already due.
var setupAt = at(-7, 0, 0)

// backdated runs fn with the clock at setupAt, then restores it.
func (e *env) backdated(fn func()) {
	now := e.clock.now
	e.clock.now = setupAt
	defer func() { e.clock.now = now }()
	fn()
}

// medication creates a medication with one schedule at setupAt.
func (e *env) medication(t *testing.T, profileID, name string, count int, times ...string) (m *domain.Medication, sc *domain.Schedule) {
	t.Helper()
	var err error
	e.backdated(func() {
		if m, err = e.meds.Create(context.Background(), profileID, MedicationInput{Name: name, InitialCount: count}, nil); err != nil {
			return
		}
		sc, err = e.scheds.Add(context.Background(), m.ID, ScheduleInput{Times: times})
	})
	if err != nil {
		t.Fatalf("medication %q: %v", name, err)
	}
	return m, sc
}

func (e *env) firstSchedule(t *testing.T, medicationID string) *domain.Schedule {
	t.Helper()
	scheds, err := repo.ListActiveSchedulesFor(context.Background(), e.db, []string{medicationID})
	if err != nil || len(scheds[medicationID]) == 0 {
		t.Fatalf("schedules of %s: %v", medicationID, err)
	}
	return &scheds[medicationID][0]
}

func ref(m *domain.Medication, sc *domain.Schedule, when time.Time) DoseRef {
	return DoseRef{MedicationID: m.ID, ScheduleID: sc.ID, ScheduledAt: when.UnixMilli()}
}

func countLogs(t *testing.T, db *gorm.DB, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(&domain.DoseLog{})
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func currentCount(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	m, err := repo.GetMedication(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get medication: %v", err)
	}
	return m.CurrentCount
}
