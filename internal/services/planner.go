package services

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// MissedNote is stored on logs the system writes for lapsed doses.
const MissedNote = "automatically logged as missed"

// plannedDose is one expanded slot of a schedulable medication. An early
// slot lies before the medication's DueFrom: it is shown when the user
// logged it anyway but never becomes missed.
type plannedDose struct {
	med   domain.Medication
	sched domain.Schedule
	slot  recurrence.Slot
	early bool
}

func (p plannedDose) key() repo.SlotKey {
	return repo.SlotKey{MedicationID: p.med.ID, ScheduledAt: p.slot.At.UnixMilli()}
}

// lapsed reports whether the dose was due and is past its grace period at now.
func (p plannedDose) lapsed(now time.Time) bool {
	return !p.early && now.After(p.slot.At.Add(p.sched.GracePeriod()))
}

// planDays expands every active schedule of the profile's schedulable
// medications over days, in loc. The resolver and the sweeper both go
// through here so they agree on which doses exist.
func planDays(ctx context.Context, db *gorm.DB, profileID string, days []recurrence.Day, loc *time.Location) ([]plannedDose, error) {
	meds, err := repo.ListSchedulableMedications(ctx, db, profileID)
	if err != nil {
		return nil, err
	}
	if len(meds) == 0 {
		return nil, nil
	}
	ids := make([]string, len(meds))
	for i, m := range meds {
		ids[i] = m.ID
	}
	scheds, err := repo.ListActiveSchedulesFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	var out []plannedDose
	for _, m := range meds {
		end := m.TherapyEnd()
		for _, sc := range scheds[m.ID] {
			spec := recurrence.Spec{Times: sc.Times, DaysOfWeek: sc.DaysOfWeek}
			due := m.DueFrom(sc)
			for _, d := range days {
				for _, slot := range recurrence.Expand(spec, d, loc) {
					if end != nil && !slot.At.Before(*end) {
						continue
					}
					out = append(out, plannedDose{med: m, sched: sc, slot: slot, early: slot.At.Before(due)})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.slot.At.Equal(b.slot.At) {
			return a.slot.At.Before(b.slot.At)
		}
		if a.med.Name != b.med.Name {
			return a.med.Name < b.med.Name
		}
		if a.med.ID != b.med.ID {
			return a.med.ID < b.med.ID
		}
		return a.sched.ID < b.sched.ID
	})
	return out, nil
}

// slotRange returns the epoch-ms bounds covering days in loc.
func slotRange(days []recurrence.Day, loc *time.Location) (from, to int64) {
	first, last := days[0], days[0]
	for _, d := range days[1:] {
		if d.Start(loc).Before(first.Start(loc)) {
			first = d
		}
		if d.Start(loc).After(last.Start(loc)) {
			last = d
		}
	}
	return first.Start(loc).UnixMilli(), last.AddDays(1).Start(loc).UnixMilli() - 1
}

func medicationIDs(planned []plannedDose) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range planned {
		if _, ok := seen[p.med.ID]; ok {
			continue
		}
		seen[p.med.ID] = struct{}{}
		ids = append(ids, p.med.ID)
	}
	return ids
}

// writeMissed records a missed log for p together with its outbox event.
// Both rows commit or neither does.
func writeMissed(ctx context.Context, db *gorm.DB, p plannedDose) (*domain.DoseLog, error) {
	l := &domain.DoseLog{
		ProfileID:    p.med.ProfileID,
		MedicationID: p.med.ID,
		ScheduleID:   p.sched.ID,
		ScheduledAt:  p.slot.At.UnixMilli(),
		Status:       domain.StatusMissed,
		Notes:        MissedNote,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateDoseLog(ctx, tx, l); err != nil {
			return err
		}
		_, err := repo.CreateMissedDoseEvent(ctx, tx, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}
