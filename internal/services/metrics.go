package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// doseTransitions counts successful user transitions by target status.
	doseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_dose_transitions_total",
			Help: "Dose transitions committed, by resulting status.",
		},
		[]string{"status"},
	)

	// doseRejections counts refused transitions by reason.
	doseRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_dose_rejections_total",
			Help: "Dose transitions refused, by reason.",
		},
		[]string{"reason"},
	)

	// missedWritten counts missed logs materialised, by writer.
	missedWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_missed_doses_written_total",
			Help: "Missed dose logs written, by source (resolver or sweeper).",
		},
		[]string{"source"},
	)

	// sweepSlots counts slots handled by the sweeper, by outcome.
	sweepSlots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_sweep_slots_total",
			Help: "Slots processed by the missed-dose sweeper, by outcome.",
		},
		[]string{"outcome"},
	)

	// sweepDuration records how long each sweep pass takes.
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medtrack_sweep_duration_seconds",
			Help:    "Duration of missed-dose sweeps in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// notificationsSent counts outbox events handed to helpers.
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_missed_dose_notifications_total",
			Help: "Missed dose notifications, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(doseTransitions, doseRejections, missedWritten, sweepSlots, sweepDuration, notificationsSent)
}
