package services

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// StackOptions configures NewStack.
type StackOptions struct {
	Loc                 *time.Location
	Clock               Clock
	Log                 *zerolog.Logger
	HealthCacheTTL      time.Duration
	AdherenceWindowDays int
	DispatchMaxAttempts int
	// Notifier delivers missed-dose events; nil logs them.
	Notifier Notifier
}

// Stack is the set of services one process shares between the HTTP API,
// the background scheduler and the CLI.
type Stack struct {
	Profiles    *ProfileService
	Medications *MedicationService
	Schedules   *ScheduleService
	Doses       *DoseService
	Health      *HealthService
	Helpers     *HelperService
	Dispatcher  *Dispatcher
	Sweeper     *Sweeper

	// Clock is the instant every service above resolves "today" against.
	Clock Clock
}

// NewStack wires every service onto db. Profiles use repo as their
// repository.
func NewStack(db *gorm.DB, repo ProfileRepo, o StackOptions) *Stack {
	loc := orUTC(o.Loc)
	lg := loggerOr(o.Log)

	notifier := o.Notifier
	if notifier == nil {
		notifier = LogNotifier{Log: lg}
	}
	attempts := o.DispatchMaxAttempts
	if attempts <= 0 {
		attempts = DefaultDispatchMaxAttempts
	}

	health := &HealthService{
		DB:         db,
		Clock:      o.Clock,
		Loc:        loc,
		WindowDays: o.AdherenceWindowDays,
		CacheTTL:   o.HealthCacheTTL,
	}
	meds := &MedicationService{DB: db, Clock: o.Clock, Log: lg, NameMaxLen: 255}
	dispatcher := &Dispatcher{
		DB:          db,
		Notifier:    notifier,
		Clock:       o.Clock,
		Log:         lg,
		MaxAttempts: attempts,
		BatchSize:   DefaultDispatchBatch,
	}

	return &Stack{
		Profiles:    NewProfileService(db, repo),
		Medications: meds,
		Schedules:   &ScheduleService{DB: db, Clock: o.Clock},
		Doses:       &DoseService{DB: db, Clock: o.Clock, Loc: loc, Log: lg, Health: health},
		Health:      health,
		Helpers:     &HelperService{DB: db},
		Dispatcher:  dispatcher,
		Sweeper: &Sweeper{
			DB:          db,
			Clock:       o.Clock,
			Loc:         loc,
			Log:         lg,
			Medications: meds,
			Health:      health,
			Dispatcher:  dispatcher,
		},
		Clock: o.Clock,
	}
}
