// Package domain defines the persistence models for profiles, medications,
// dosing schedules, dose logs, and the derived health summary. These types are
// mapped with GORM and form the core data layer of the adherence backend.
package domain

import (
	"time"
)

// DoseStatus is the state of a single scheduled dose instant.
//
// Pending is never persisted: a pending dose is represented by the absence of
// a DoseLog row for its (medication, scheduled instant) pair.
type DoseStatus string

const (
	StatusPending DoseStatus = "pending"
	StatusTaken   DoseStatus = "taken"
	StatusMissed  DoseStatus = "missed"
	StatusSkipped DoseStatus = "skipped"
	StatusDelayed DoseStatus = "delayed"
)

// Persisted reports whether the status may be stored on a DoseLog row.
func (s DoseStatus) Persisted() bool {
	switch s {
	case StatusTaken, StatusMissed, StatusSkipped, StatusDelayed:
		return true
	}
	return false
}

// Therapy types for Medication.TherapyType.
const (
	TherapyOngoing = "ongoing"
	TherapyLimited = "limited"
)

// Profile represents a household member whose medications are tracked.
// Deleting a profile cascades to everything it owns.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DisplayName: name shown in the client.
//   - AvatarColor: hex color used by the client avatar.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Profile struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(120);not null"`
	AvatarColor string    `json:"avatar_color" gorm:"type:varchar(16);not null;default:'#4F46E5'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// GetUpdatedAt exposes UpdatedAt for last-write-wins merging.
func (p Profile) GetUpdatedAt() time.Time { return p.UpdatedAt }

// Medication is a tracked drug for one profile.
//
// CurrentCount is the remaining inventory. It is decremented only by a
// successful "taken" transition (inside the same transaction as the dose log
// insert) and never goes negative; archiving or pausing leaves it untouched.
//
// Therapy metadata is optional: a "limited" therapy with a duration and start
// is archived automatically once its window elapses.
type Medication struct {
	ID           string `json:"id"            gorm:"type:char(36);primaryKey"`
	ProfileID    string `json:"profile_id"    gorm:"type:char(36);not null;index:idx_profile_meds"`
	Name         string `json:"name"          gorm:"type:varchar(255);not null"`
	GenericName  string `json:"generic_name"  gorm:"type:varchar(255)"`
	BrandName    string `json:"brand_name"    gorm:"type:varchar(255)"`
	Strength     string `json:"strength"      gorm:"type:varchar(64)"`
	Form         string `json:"form"          gorm:"type:varchar(64)"`
	InitialCount int    `json:"initial_count" gorm:"not null;default:0"`
	CurrentCount int    `json:"current_count" gorm:"not null;default:0;check:chk_medications_current_count,current_count >= 0"`
	Active       bool   `json:"active"        gorm:"not null"`

	TherapyType         string     `json:"therapy_type,omitempty"          gorm:"type:varchar(16)"`
	TherapyDurationDays *int       `json:"therapy_duration_days,omitempty"`
	TherapyStart        *time.Time `json:"therapy_start,omitempty"`

	Archived   bool       `json:"archived"              gorm:"not null;default:false;index"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	Paused      bool       `json:"paused"                 gorm:"not null;default:false"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	PauseReason string     `json:"pause_reason,omitempty" gorm:"type:varchar(255)"`
	// ResumedAt is when the medication last left a pause. Slots of the
	// paused stretch are never due.
	ResumedAt *time.Time `json:"resumed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Profile is the owning household member. Medications are cascade-deleted
	// with their profile.
	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Medication.
func (Medication) TableName() string { return "medications" }

// GetUpdatedAt exposes UpdatedAt for last-write-wins merging.
func (m Medication) GetUpdatedAt() time.Time { return m.UpdatedAt }

// Schedulable reports whether doses should be expanded for the medication.
func (m Medication) Schedulable() bool {
	return m.Active && !m.Archived && !m.Paused
}

// TherapyEnd returns the instant a limited therapy ends, or nil when the
// medication has no bounded therapy window.
func (m Medication) TherapyEnd() *time.Time {
	if m.TherapyType != TherapyLimited || m.TherapyDurationDays == nil || m.TherapyStart == nil {
		return nil
	}
	end := m.TherapyStart.AddDate(0, 0, *m.TherapyDurationDays)
	return &end
}

// DueFrom returns the first instant at which sc yields due doses for m: the
// latest of the medication's and schedule's creation, the therapy start and
// the last resume. Earlier slots are never reported missed.
func (m Medication) DueFrom(sc Schedule) time.Time {
	from := m.CreatedAt
	for _, t := range []*time.Time{&sc.CreatedAt, m.TherapyStart, m.ResumedAt} {
		if t != nil && t.After(from) {
			from = *t
		}
	}
	return from
}

// DefaultGracePeriodMinutes is applied when a schedule is created without one.
const DefaultGracePeriodMinutes = 30

// Schedule is one dosing rule for a medication: a sorted set of HH:MM slots
// and an optional weekday subset (nil or empty means every day; 0 = Sunday).
//
// Schedules are deactivated rather than deleted when a medication's rule
// changes, so historical dose logs keep a valid parent.
type Schedule struct {
	ID                 string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	MedicationID       string    `json:"medication_id"        gorm:"type:char(36);not null;index:idx_med_schedules"`
	Times              []string  `json:"times"                gorm:"type:text;not null;serializer:json"`
	DaysOfWeek         []int     `json:"days_of_week"         gorm:"type:text;serializer:json"`
	GracePeriodMinutes int       `json:"grace_period_minutes" gorm:"not null;check:chk_schedules_grace,grace_period_minutes BETWEEN 0 AND 120"`
	Active             bool      `json:"active"               gorm:"not null"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	Medication Medication `json:"-" gorm:"foreignKey:MedicationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Schedule.
func (Schedule) TableName() string { return "schedules" }

// GracePeriod returns the schedule's grace period as a duration.
func (s Schedule) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodMinutes) * time.Minute
}

// DoseLog is the concrete record of one scheduled dose instant.
//
// At most one DoseLog exists per (medication_id, scheduled_at); the unique
// index is the backstop for that rule. ScheduledAt and ActualAt are epoch
// milliseconds. Once written, a log is immutable except for the
// delayed -> taken transition of the snooze flow.
type DoseLog struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	ProfileID    string     `json:"profile_id"    gorm:"type:char(36);not null;index:idx_profile_logs,priority:1"`
	MedicationID string     `json:"medication_id" gorm:"type:char(36);not null;uniqueIndex:ux_dose_slot,priority:1"`
	ScheduleID   string     `json:"schedule_id"   gorm:"type:char(36);not null;index"`
	ScheduledAt  int64      `json:"scheduled_at"  gorm:"not null;uniqueIndex:ux_dose_slot,priority:2;index:idx_profile_logs,priority:2"`
	ActualAt     *int64     `json:"actual_at,omitempty"`
	Status       DoseStatus `json:"status"        gorm:"type:varchar(16);not null;check:chk_dose_logs_status,status IN ('taken','missed','skipped','delayed')"`
	Notes        string     `json:"notes"         gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Medication Medication `json:"-" gorm:"foreignKey:MedicationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Schedule   Schedule   `json:"-" gorm:"foreignKey:ScheduleID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DoseLog.
func (DoseLog) TableName() string { return "dose_logs" }

// ScheduledTime converts ScheduledAt to a time.Time in loc.
func (l DoseLog) ScheduledTime(loc *time.Location) time.Time {
	return time.UnixMilli(l.ScheduledAt).In(loc)
}

// HealthMetrics is the cached adherence summary of a profile. It is always
// reproducible from dose log history.
type HealthMetrics struct {
	ProfileID        string    `json:"profile_id"        gorm:"type:char(36);primaryKey"`
	Score            float64   `json:"score"             gorm:"not null;check:chk_health_score,score BETWEEN 0 AND 100"`
	Streak           int       `json:"streak"            gorm:"not null;default:0"`
	AdherencePercent float64   `json:"adherence_percent" gorm:"not null"`
	MissedCount      int       `json:"missed_count"      gorm:"not null;default:0"`
	LastCalculated   time.Time `json:"last_calculated"`

	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for HealthMetrics.
func (HealthMetrics) TableName() string { return "health_metrics" }

// HelperPairing associates a profile with a caregiver device that should be
// told about missed doses. The pairing handshake itself lives elsewhere.
type HelperPairing struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	ProfileID      string    `json:"profile_id"       gorm:"type:char(36);not null;index"`
	HelperName     string    `json:"helper_name"      gorm:"type:varchar(120);not null"`
	HelperDeviceID string    `json:"helper_device_id" gorm:"type:varchar(128);not null"`
	Active         bool      `json:"active"           gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for HelperPairing.
func (HelperPairing) TableName() string { return "helper_pairings" }

// MissedDoseEvent is an outbox row written in the same transaction as a
// lazily materialised missed DoseLog. The unique dose_log_id guarantees one
// event per missed dose; DispatchedAt marks hand-off to the notifier.
type MissedDoseEvent struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	DoseLogID    string     `json:"dose_log_id"   gorm:"type:char(36);not null;uniqueIndex"`
	ProfileID    string     `json:"profile_id"    gorm:"type:char(36);not null;index"`
	MedicationID string     `json:"medication_id" gorm:"type:char(36);not null"`
	ScheduledAt  int64      `json:"scheduled_at"  gorm:"not null"`
	Attempts     int        `json:"attempts"      gorm:"not null;default:0"`
	LastError    string     `json:"last_error,omitempty" gorm:"type:text"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty" gorm:"index"`
	CreatedAt    time.Time  `json:"created_at"`

	DoseLog DoseLog `json:"-" gorm:"foreignKey:DoseLogID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MissedDoseEvent.
func (MissedDoseEvent) TableName() string { return "missed_dose_events" }

// EventDelivery records that one helper was notified of a missed-dose event.
// A retried event skips the helpers it already reached.
type EventDelivery struct {
	EventID     string    `json:"event_id"     gorm:"type:char(36);primaryKey"`
	HelperID    string    `json:"helper_id"    gorm:"type:char(36);primaryKey"`
	DeliveredAt time.Time `json:"delivered_at" gorm:"not null"`

	Event MissedDoseEvent `json:"-" gorm:"foreignKey:EventID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for EventDelivery.
func (EventDelivery) TableName() string { return "missed_dose_deliveries" }
