// Package services – HealthService
//
// This file implements the adherence aggregator. ComputeAdherence is the pure
// math over a window of dose logs; HealthService persists its result as the
// profile's cached summary and serves it while it is fresh.
package services

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/recurrence"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// Defaults for HealthService.
const (
	DefaultWindowDays = 30
	DefaultCacheTTL   = time.Hour
)

// Score weights per status.
const (
	weightTaken   = 1.0
	weightDelayed = 0.8
	weightSkipped = -0.5
	weightMissed  = -1.0
)

// Summary is the adherence picture over a window of dose logs.
type Summary struct {
	Score            float64 `json:"score"`
	Streak           int     `json:"streak"`
	AdherencePercent float64 `json:"adherence_percent"`
	Taken            int     `json:"taken"`
	Missed           int     `json:"missed"`
	Skipped          int     `json:"skipped"`
	Delayed          int     `json:"delayed"`
	Total            int     `json:"total"`
}

// ComputeAdherence summarizes logs scheduled within the windowDays before
// now. Logs outside the window are ignored.
//
// Adherence is taken/(taken+missed); skipped and delayed doses do not count
// against it. The score weights every status and is clamped to 0..100. Both
// are 100 when there is nothing to judge.
//
// The streak counts consecutive local days, walking back from yesterday, on
// which at least one dose was taken and none was missed. Days without logs
// neither extend nor break it.
func ComputeAdherence(logs []domain.DoseLog, now time.Time, loc *time.Location, windowDays int) Summary {
	loc = orUTC(loc)
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	from := now.AddDate(0, 0, -windowDays).UnixMilli()
	to := now.UnixMilli()

	type dayTally struct{ taken, missed, total int }
	byDay := make(map[recurrence.Day]*dayTally)

	var s Summary
	for _, l := range logs {
		if l.ScheduledAt < from || l.ScheduledAt > to {
			continue
		}
		d := recurrence.DayOf(l.ScheduledTime(loc), loc)
		t := byDay[d]
		if t == nil {
			t = &dayTally{}
			byDay[d] = t
		}
		t.total++
		s.Total++
		switch l.Status {
		case domain.StatusTaken:
			s.Taken++
			t.taken++
		case domain.StatusMissed:
			s.Missed++
			t.missed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusDelayed:
			s.Delayed++
		}
	}

	s.AdherencePercent = 100
	if judged := s.Taken + s.Missed; judged > 0 {
		s.AdherencePercent = float64(s.Taken) / float64(judged) * 100
	}

	s.Score = 100
	if s.Total > 0 {
		raw := float64(s.Taken)*weightTaken +
			float64(s.Delayed)*weightDelayed +
			float64(s.Skipped)*weightSkipped +
			float64(s.Missed)*weightMissed
		s.Score = math.Max(0, math.Min(100, raw/float64(s.Total)*100))
	}

	today := recurrence.DayOf(now, loc)
	for i := 1; i <= windowDays; i++ {
		t := byDay[today.AddDays(-i)]
		if t == nil {
			continue
		}
		if t.missed > 0 || t.taken == 0 {
			break
		}
		s.Streak++
	}
	return s
}

// HealthService caches adherence summaries per profile.
type HealthService struct {
	DB    *gorm.DB
	Clock Clock
	Loc   *time.Location

	// WindowDays is the look-back window; 0 means DefaultWindowDays.
	WindowDays int
	// CacheTTL is how long a stored summary is served; 0 means DefaultCacheTTL.
	CacheTTL time.Duration
}

func (s *HealthService) window() int {
	if s.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return s.WindowDays
}

func (s *HealthService) ttl() time.Duration {
	if s.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return s.CacheTTL
}

// Recompute rebuilds the profile's summary from its dose logs and stores it.
func (s *HealthService) Recompute(ctx context.Context, profileID string) (*domain.HealthMetrics, error) {
	ctx, span := otel.Tracer("services/HealthService").Start(ctx, "Recompute",
		trace.WithAttributes(attribute.String("profile.id", profileID)),
	)
	defer span.End()

	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	now := s.Clock.Now()
	from := now.AddDate(0, 0, -s.window())
	logs, err := repo.ListDoseLogsInWindow(ctx, s.DB, profileID, from.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	sum := ComputeAdherence(logs, now, s.Loc, s.window())

	m := &domain.HealthMetrics{
		ProfileID:        profileID,
		Score:            sum.Score,
		Streak:           sum.Streak,
		AdherencePercent: sum.AdherencePercent,
		MissedCount:      sum.Missed,
		LastCalculated:   now.UTC(),
	}
	if err := repo.UpsertHealthMetrics(ctx, s.DB, m); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Float64("score", sum.Score), attribute.Int("streak", sum.Streak))
	return m, nil
}

// Get returns the cached summary while it is younger than the cache TTL and
// recomputes it otherwise.
func (s *HealthService) Get(ctx context.Context, profileID string) (*domain.HealthMetrics, error) {
	m, err := repo.GetHealthMetrics(ctx, s.DB, profileID)
	switch {
	case err == nil:
		if s.Clock.Now().Sub(m.LastCalculated) < s.ttl() {
			return m, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return s.Recompute(ctx, profileID)
}
