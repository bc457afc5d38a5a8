package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/medtrack-backend/internal/domain"
)

// DoseTransitioner is the engine a DoseBoard commits through.
type DoseTransitioner interface {
	Transition(ctx context.Context, ref DoseRef, target domain.DoseStatus, opts ...TransitionOption) (*domain.DoseLog, error)
}

// RecoverableError reports a transition that was shown optimistically and
// then rolled back because the engine refused it.
type RecoverableError struct {
	Ref      DoseRef
	Target   domain.DoseStatus
	Restored domain.DoseStatus
	Err      error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("dose %s@%d: %s failed, restored %s: %v",
		e.Ref.MedicationID, e.Ref.ScheduledAt, e.Target, e.Restored, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// DoseBoard is an in-memory view of today's doses that applies user actions
// optimistically: the new status is visible at once and reverted if the
// engine refuses it.
type DoseBoard struct {
	mu    sync.Mutex
	doses []Dose
	loc   *time.Location
}

// NewDoseBoard returns a board over a copy of doses.
func NewDoseBoard(doses []Dose, loc *time.Location) *DoseBoard {
	return &DoseBoard{doses: append([]Dose(nil), doses...), loc: orUTC(loc)}
}

// Doses returns a copy of the current view.
func (b *DoseBoard) Doses() []Dose {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Dose(nil), b.doses...)
}

// Apply shows target for the dose at ref, commits it through engine and
// either adopts the persisted log or restores that dose's prior entry. A refusal is
// returned as *RecoverableError wrapping the engine's error.
func (b *DoseBoard) Apply(ctx context.Context, engine DoseTransitioner, ref DoseRef, target domain.DoseStatus, opts ...TransitionOption) (*domain.DoseLog, error) {
	b.mu.Lock()
	i := b.index(ref)
	if i < 0 {
		b.mu.Unlock()
		return nil, ErrInvalidDoseSlot
	}
	prev := b.doses[i]
	b.doses[i].Status = target
	b.mu.Unlock()

	l, err := engine.Transition(ctx, ref, target, opts...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		// Only this entry is rolled back, and only while it still shows our
		// optimistic status. Concurrent applies to other doses keep theirs.
		if j := b.index(ref); j >= 0 && b.doses[j].Status == target && b.doses[j].LogID == prev.LogID {
			b.doses[j] = prev
		}
		return nil, &RecoverableError{Ref: ref, Target: target, Restored: prev.Status, Err: err}
	}
	if j := b.index(ref); j >= 0 {
		fill(&b.doses[j], *l, b.loc)
	}
	return l, nil
}

func (b *DoseBoard) index(ref DoseRef) int {
	for i, d := range b.doses {
		if d.MedicationID == ref.MedicationID && d.ScheduleID == ref.ScheduleID && d.ScheduledAt.UnixMilli() == ref.ScheduledAt {
			return i
		}
	}
	return -1
}
