// Package metrics holds the Prometheus collectors shared by the scheduling
// services and the HTTP middleware.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AppointmentsBooked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_appointments_booked_total",
			Help: "Appointments successfully booked.",
		},
	)

	BookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_booking_conflicts_total",
			Help: "Booking or reschedule attempts rejected because the slot was taken or locked.",
		},
		[]string{"reason"},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_status_transitions_total",
			Help: "Appointment status changes by target status.",
		},
		[]string{"to"},
	)

	// kind is "appointment" or "followup_<days>".
	RemindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_reminders_sent_total",
			Help: "Reminder notifications created by the generator.",
		},
		[]string{"kind"},
	)

	RemindersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_reminders_failed_total",
			Help: "Reminder notifications that could not be stored.",
		},
		[]string{"kind"},
	)

	ReminderRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinic_reminder_run_duration_seconds",
			Help:    "Wall time of a full reminder generation run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	RealtimeDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_realtime_dropped_total",
			Help: "Change events dropped because a subscriber buffer was full.",
		},
	)

	RealtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinic_realtime_subscribers",
			Help: "Currently open realtime subscriptions.",
		},
	)

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_messages_sent_total",
			Help: "Internal mailbox messages sent.",
		},
	)

	// path is the chi route pattern, never the raw URL.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AppointmentsBooked,
		BookingConflicts,
		StatusTransitions,
		RemindersSent,
		RemindersFailed,
		ReminderRunDuration,
		RealtimeDropped,
		RealtimeSubscribers,
		MessagesSent,
		HTTPRequests,
		HTTPDuration,
		HTTPInflight,
	)
}
