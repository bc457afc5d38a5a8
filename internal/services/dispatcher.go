// Package services – missed-dose notifications
//
// Missed logs enqueue an outbox event in the same transaction. The
// Dispatcher drains undispatched events and tells every active helper of the
// profile through a Notifier. Each successful delivery is recorded per
// helper, so a retry only reaches the helpers that have not heard of the
// event yet. An event is marked dispatched once no helper is left; failed
// events are retried on later passes until MaxAttempts is reached.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// Notifier delivers a missed-dose event to one helper device.
type Notifier interface {
	NotifyMissedDose(ctx context.Context, helper domain.HelperPairing, ev domain.MissedDoseEvent) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// a push transport.
type LogNotifier struct {
	Log *zerolog.Logger
}

// NotifyMissedDose implements Notifier.
func (n LogNotifier) NotifyMissedDose(_ context.Context, helper domain.HelperPairing, ev domain.MissedDoseEvent) error {
	loggerOr(n.Log).Info().
		Str("profile_id", ev.ProfileID).
		Str("medication_id", ev.MedicationID).
		Time("scheduled_at", time.UnixMilli(ev.ScheduledAt).UTC()).
		Str("helper", helper.HelperName).
		Str("device_id", helper.HelperDeviceID).
		Msg("missed dose notification")
	return nil
}

// Defaults for Dispatcher.
const (
	DefaultDispatchMaxAttempts = 5
	DefaultDispatchBatch       = 100
)

// DispatchResult counts the outcome of one dispatch pass.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher drains the missed-dose outbox.
type Dispatcher struct {
	DB          *gorm.DB
	Notifier    Notifier
	Clock       Clock
	Log         *zerolog.Logger
	MaxAttempts int
	BatchSize   int
}

// Dispatch delivers one batch of pending events.
func (d *Dispatcher) Dispatch(ctx context.Context) (DispatchResult, error) {
	ctx, span := otel.Tracer("services/Dispatcher").Start(ctx, "Dispatch")
	defer span.End()

	var res DispatchResult
	maxAttempts, batch := d.MaxAttempts, d.BatchSize
	if maxAttempts <= 0 {
		maxAttempts = DefaultDispatchMaxAttempts
	}
	if batch <= 0 {
		batch = DefaultDispatchBatch
	}
	events, err := repo.ListPendingEvents(ctx, d.DB, batch, maxAttempts)
	if err != nil {
		return res, err
	}

	helpers := make(map[string][]domain.HelperPairing)
	for _, ev := range events {
		hs, ok := helpers[ev.ProfileID]
		if !ok {
			if hs, err = repo.ListHelperPairings(ctx, d.DB, ev.ProfileID, true); err != nil {
				return res, err
			}
			helpers[ev.ProfileID] = hs
		}

		sent, err := repo.DeliveredHelpers(ctx, d.DB, ev.ID)
		if err != nil {
			return res, err
		}
		var sendErr error
		for _, h := range hs {
			if sent[h.ID] {
				continue
			}
			if err := d.Notifier.NotifyMissedDose(ctx, h, ev); err != nil {
				sendErr = err
				loggerOr(d.Log).Warn().Err(err).Str("event_id", ev.ID).Str("helper_id", h.ID).Msg("missed dose notification failed")
				continue
			}
			if err := repo.RecordDelivery(ctx, d.DB, ev.ID, h.ID, d.Clock.Now()); err != nil {
				return res, err
			}
		}
		if sendErr != nil {
			res.Failed++
			notificationsSent.WithLabelValues("failed").Inc()
			if err := repo.MarkEventFailed(ctx, d.DB, ev.ID, sendErr); err != nil {
				return res, err
			}
			continue
		}
		if err := repo.MarkEventDispatched(ctx, d.DB, ev.ID, d.Clock.Now()); err != nil {
			return res, err
		}
		res.Sent++
		notificationsSent.WithLabelValues("sent").Inc()
	}
	span.SetAttributes(attribute.Int("sent", res.Sent), attribute.Int("failed", res.Failed))
	return res, nil
}
