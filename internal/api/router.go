package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Notifications *notification.Service
	Mailbox       *mailbox.Service
	Reminders     reminder.Runner
	Feed          realtime.Feed
	Checks        []Check
	Logger        zerolog.Logger
	RateRPS       float64 // 0 disables rate limiting
	RateBurst     int
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// long-lived; kept outside the rate limiter
	r.Handle("/ws", realtime.NewWSHandler(cfg.Feed, cfg.Logger))

	r.Group(func(r chi.Router) {
		if cfg.RateRPS > 0 {
			r.Use(NewRateLimiter(cfg.RateRPS, cfg.RateBurst).Middleware)
		}

		r.Get("/slots", slotsHandler(cfg.Appointments))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments))
			r.Get("/", listAppointmentsHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Patch("/{id}/status", updateStatusHandler(cfg.Appointments))
			r.Patch("/{id}/schedule", rescheduleHandler(cfg.Appointments))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", listNotificationsHandler(cfg.Notifications))
			r.Post("/read-all", markAllNotificationsReadHandler(cfg.Notifications))
			r.Post("/{id}/read", markNotificationReadHandler(cfg.Notifications))
			r.Delete("/{id}", deleteNotificationHandler(cfg.Notifications))
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", listMessagesHandler(cfg.Mailbox))
			r.Post("/", sendMessageHandler(cfg.Mailbox))
			r.Post("/{id}/read", markMessageReadHandler(cfg.Mailbox))
			r.Delete("/{id}", deleteMessageHandler(cfg.Mailbox))
		})

		r.Post("/jobs/reminders", runRemindersHandler(cfg.Reminders, cfg.Logger))
	})

	return r
}
