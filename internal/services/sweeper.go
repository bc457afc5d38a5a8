// Package services – Sweeper
//
// The sweeper is the background counterpart of the resolver. It expands
// today and yesterday for every profile, so late-evening doses are caught
// after midnight, and writes missed logs for lapsed slots that have none.
// Every slot is handled on its own: one failure is counted and logged and
// never stops the batch.
//
// Each pass also purges orphaned dose logs, archives finished limited
// therapies, refreshes the health of touched profiles and drains the
// missed-dose outbox.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// orphanBatch bounds how many orphaned logs one pass deletes.
const orphanBatch = 500

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	Orphaned int `json:"orphaned"`
	Archived int `json:"archived"`
	Notified int `json:"notified"`
}

// Sweeper materializes missed doses in the background.
type Sweeper struct {
	DB    *gorm.DB
	Clock Clock
	Loc   *time.Location
	Log   *zerolog.Logger

	// Optional collaborators; nil skips the corresponding step.
	Medications *MedicationService
	Health      *HealthService
	Dispatcher  *Dispatcher
}

// Sweep runs one pass. It only returns an error when the profile list
// itself cannot be read.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := otel.Tracer("services/Sweeper").Start(ctx, "Sweep")
	defer span.End()
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var res SweepResult
	lg := loggerOr(s.Log)
	now := s.Clock.Now()
	loc := orUTC(s.Loc)

	ids, err := repo.ListProfileIDs(ctx, s.DB)
	if err != nil {
		return res, err
	}

	today := recurrence.DayOf(now, loc)
	days := []recurrence.Day{today.AddDays(-1), today}
	touched := make(map[string]struct{})

	for _, profileID := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		updated, failed := s.sweepProfile(ctx, profileID, days, now, loc)
		res.Updated += updated
		res.Failed += failed
		if updated > 0 {
			touched[profileID] = struct{}{}
		}
	}

	res.Orphaned = s.purgeOrphans(ctx, touched)

	if s.Medications != nil {
		archived, err := s.Medications.ArchiveExpired(ctx, now)
		if err != nil {
			lg.Error().Err(err).Msg("archive expired therapies failed")
		}
		res.Archived = len(archived)
	}

	if s.Health != nil {
		for profileID := range touched {
			if _, err := s.Health.Recompute(ctx, profileID); err != nil {
				lg.Warn().Err(err).Str("profile_id", profileID).Msg("health recompute failed")
			}
		}
	}

	if s.Dispatcher != nil {
		dr, err := s.Dispatcher.Dispatch(ctx)
		if err != nil {
			lg.Error().Err(err).Msg("missed dose dispatch failed")
		}
		res.Notified = dr.Sent
	}

	span.SetAttributes(
		attribute.Int("updated", res.Updated),
		attribute.Int("failed", res.Failed),
		attribute.Int("orphaned", res.Orphaned),
	)
	lg.Info().
		Int("profiles", len(ids)).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int("orphaned", res.Orphaned).
		Int("archived", res.Archived).
		Int("notified", res.Notified).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
	return res, nil
}

func (s *Sweeper) sweepProfile(ctx context.Context, profileID string, days []recurrence.Day, now time.Time, loc *time.Location) (updated, failed int) {
	lg := loggerOr(s.Log)
	planned, err := planDays(ctx, s.DB, profileID, days, loc)
	if err != nil {
		lg.Error().Err(err).Str("profile_id", profileID).Msg("sweep expansion failed")
		return 0, 1
	}
	if len(planned) == 0 {
		return 0, 0
	}
	from, to := slotRange(days, loc)
	logs, err := repo.DoseLogsBySlot(ctx, s.DB, medicationIDs(planned), from, to)
	if err != nil {
		lg.Error().Err(err).Str("profile_id", profileID).Msg("sweep log lookup failed")
		return 0, 1
	}

	for _, p := range planned {
		if _, ok := logs[p.key()]; ok || !p.lapsed(now) {
			continue
		}
		_, err := writeMissed(ctx, s.DB, p)
		switch {
		case err == nil:
			updated++
			sweepSlots.WithLabelValues("updated").Inc()
			missedWritten.WithLabelValues("sweeper").Inc()
		case repo.IsDuplicate(err):
			// The resolver or a user action got there first.
			sweepSlots.WithLabelValues("skipped").Inc()
		case repo.IsForeignKeyViolation(err):
			failed++
			sweepSlots.WithLabelValues("failed").Inc()
			lg.Warn().Err(err).
				Str("medication_id", p.med.ID).
				Str("schedule_id", p.sched.ID).
				Msg("medication or schedule removed during sweep")
		default:
			failed++
			sweepSlots.WithLabelValues("failed").Inc()
			lg.Error().Err(err).
				Str("medication_id", p.med.ID).
				Time("scheduled_at", p.slot.At).
				Msg("missed dose write failed")
		}
	}
	return updated, failed
}

func (s *Sweeper) purgeOrphans(ctx context.Context, touched map[string]struct{}) int {
	lg := loggerOr(s.Log)
	orphans, err := repo.ListOrphanDoseLogs(ctx, s.DB, orphanBatch)
	if err != nil {
		lg.Error().Err(err).Msg("orphan lookup failed")
		return 0
	}
	n := 0
	for _, l := range orphans {
		if err := repo.DeleteDoseLog(ctx, s.DB, l.ID); err != nil {
			lg.Error().Err(err).Str("dose_log_id", l.ID).Msg("orphan delete failed")
			continue
		}
		lg.Warn().
			Str("dose_log_id", l.ID).
			Str("medication_id", l.MedicationID).
			Str("schedule_id", l.ScheduleID).
			Msg("deleted orphaned dose log")
		touched[l.ProfileID] = struct{}{}
		n++
	}
	return n
}
