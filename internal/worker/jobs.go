package worker

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
)

// Job names.
const (
	JobSweep            = "sweep"
	JobPurgeIdempotency = "purge-idempotency"
	DefaultSweepSpec    = "@every 15m"
	DefaultPurgeSpec    = "@hourly"
)

// Sweeper is the part of services.Sweeper the runner needs.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
}

// SweepJob runs a missed-dose sweep on spec (DefaultSweepSpec when empty).
// The sweeper logs its own summary.
func SweepJob(s Sweeper, spec string) Job {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return Job{
		Name: JobSweep,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		},
	}
}

// PurgeIdempotencyJob deletes expired Idempotency-Key records.
func PurgeIdempotencyJob(db *gorm.DB, spec string) Job {
	if spec == "" {
		spec = DefaultPurgeSpec
	}
	return Job{
		Name: JobPurgeIdempotency,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
			return err
		},
	}
}
