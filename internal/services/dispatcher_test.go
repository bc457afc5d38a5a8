package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

type recordingNotifier struct {
	sent []string
	err  error
	// failing holds device ids whose deliveries fail.
	failing map[string]bool
}

func (n *recordingNotifier) NotifyMissedDose(_ context.Context, h domain.HelperPairing, ev domain.MissedDoseEvent) error {
	if n.err != nil {
		return n.err
	}
	if n.failing[h.HelperDeviceID] {
		return errors.New("device unreachable")
	}
	n.sent = append(n.sent, h.HelperDeviceID+"/"+ev.DoseLogID)
	return nil
}

func TestDispatcher_RetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(0, 12, 0))
	p := e.profile(t)
	e.medication(t, p.ID, "Aspirin", 5, "08:00")
	if _, err := (&HelperService{DB: e.db}).Register(ctx, p.ID, "Son", "dev-9"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.doses.ResolveToday(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	rec := &recordingNotifier{err: errors.New("push gateway down")}
	d := &Dispatcher{DB: e.db, Notifier: rec, Clock: e.clock.Clock(), Log: &nopLog, MaxAttempts: 2}

	for i := 0; i < 2; i++ {
		res, err := d.Dispatch(ctx)
		if err != nil || res.Failed != 1 {
			t.Fatalf("attempt %d: res=%+v err=%v", i+1, res, err)
		}
	}
	// Exhausted: no more attempts, event stays undispatched.
	res, err := d.Dispatch(ctx)
	if err != nil || res.Failed != 0 || res.Sent != 0 {
		t.Fatalf("after max attempts: res=%+v err=%v", res, err)
	}
	if n, _ := repo.CountPendingEvents(ctx, e.db); n != 1 {
		t.Fatalf("pending=%d want 1", n)
	}
	evs, _ := repo.ListPendingEvents(ctx, e.db, 10, 99)
	if len(evs) != 1 || evs[0].Attempts != 2 || evs[0].LastError == "" {
		t.Fatalf("event=%+v", evs)
	}
}

func TestDispatcher_NoHelpersStillDrains(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(0, 12, 0))
	p := e.profile(t)
	e.medication(t, p.ID, "Aspirin", 5, "08:00")
	if _, err := e.doses.ResolveToday(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	rec := &recordingNotifier{}
	d := &Dispatcher{DB: e.db, Notifier: rec, Clock: e.clock.Clock(), Log: &nopLog}
	res, err := d.Dispatch(ctx)
	if err != nil || res.Sent != 1 || len(rec.sent) != 0 {
		t.Fatalf("res=%+v sent=%v err=%v", res, rec.sent, err)
	}
	if n, _ := repo.CountPendingEvents(ctx, e.db); n != 0 {
		t.Fatalf("pending=%d", n)
	}
}

func TestDispatcher_RetryOnlyReachesUnnotifiedHelpers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(0, 12, 0))
	p := e.profile(t)
	e.medication(t, p.ID, "Aspirin", 5, "08:00")
	helpers := &HelperService{DB: e.db}
	for _, dev := range []string{"dev-1", "dev-2"} {
		if _, err := helpers.Register(ctx, p.ID, "Helper "+dev, dev); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.doses.ResolveToday(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	rec := &recordingNotifier{failing: map[string]bool{"dev-2": true}}
	d := &Dispatcher{DB: e.db, Notifier: rec, Clock: e.clock.Clock(), Log: &nopLog}
	res, err := d.Dispatch(ctx)
	if err != nil || res.Failed != 1 || res.Sent != 0 {
		t.Fatalf("first pass: res=%+v err=%v", res, err)
	}

	rec.failing = nil
	res, err = d.Dispatch(ctx)
	if err != nil || res.Sent != 1 {
		t.Fatalf("retry: res=%+v err=%v", res, err)
	}
	perDevice := map[string]int{}
	for _, s := range rec.sent {
		perDevice[strings.SplitN(s, "/", 2)[0]]++
	}
	if perDevice["dev-1"] != 1 || perDevice["dev-2"] != 1 {
		t.Fatalf("deliveries=%v want one per helper", rec.sent)
	}
	if n, _ := repo.CountPendingEvents(ctx, e.db); n != 0 {
		t.Fatalf("pending=%d", n)
	}

	// Nothing left to deliver: another pass is a no-op.
	if res, err := d.Dispatch(ctx); err != nil || res.Sent != 0 || len(rec.sent) != 2 {
		t.Fatalf("drained pass: res=%+v sent=%v err=%v", res, rec.sent, err)
	}
}

func TestHelperService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(0, 12, 0))
	p := e.profile(t)
	s := &HelperService{DB: e.db}

	if _, err := s.Register(ctx, "nope", "X", "d"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("unknown profile: %v", err)
	}
	if _, err := s.Register(ctx, p.ID, "  ", "d"); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("blank name: %v", err)
	}
	h, err := s.Register(ctx, p.ID, "  Daughter  ", "dev-1")
	if err != nil || h.HelperName != "Daughter" {
		t.Fatalf("Register: %+v %v", h, err)
	}
	if err := s.Deactivate(ctx, p.ID, h.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Deactivate(ctx, p.ID, "missing"); !errors.Is(err, ErrHelperNotFound) {
		t.Fatalf("missing helper: %v", err)
	}
	active, _ := s.List(ctx, p.ID, true)
	if len(active) != 0 {
		t.Fatalf("active=%d", len(active))
	}
}
