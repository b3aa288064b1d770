// Package reminder produces next-day appointment reminders and treatment
// follow-up reminders. A run is safe to repeat: every emission carries an
// idempotency key and keys already used are skipped.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

var (
	// ErrRunAborted wraps a read failure that stopped the run.
	ErrRunAborted = errors.New("reminder run aborted")
	// ErrRunInProgress is returned when another process holds today's run lock.
	ErrRunInProgress = errors.New("reminder run already in progress")
)

var DefaultMilestones = []int{30, 60, 90}

const unknownPatient = "Unknown patient"

type AppointmentSource interface {
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

// Sink stores a notification unless key was already delivered.
type Sink interface {
	DeliverOnce(ctx context.Context, key string, n notification.Notification) (bool, error)
}

type Runner interface {
	Run(ctx context.Context) (Result, error)
}

type Result struct {
	AppointmentReminders int `json:"appointment_reminders"`
	FollowUpReminders    int `json:"followup_reminders"`
	Skipped              int `json:"skipped"`
	Failed               int `json:"failed"`
}

// Sent is the number of notifications written by this run.
func (r Result) Sent() int {
	return r.AppointmentReminders + r.FollowUpReminders
}

type Generator struct {
	appts      AppointmentSource
	treatments treatment.Log
	people     directory.Directory
	sink       Sink
	clock      clock.Clock
	loc        *time.Location
	milestones []int
	log        zerolog.Logger
}

func NewGenerator(
	appts AppointmentSource,
	treatments treatment.Log,
	people directory.Directory,
	sink Sink,
	clk clock.Clock,
	loc *time.Location,
	log zerolog.Logger,
) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		appts:      appts,
		treatments: treatments,
		people:     people,
		sink:       sink,
		clock:      clk,
		loc:        loc,
		milestones: DefaultMilestones,
		log:        log.With().Str("component", "reminders").Logger(),
	}
}

// Run executes the appointment pass and then the follow-up pass.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.ReminderRunDuration.Observe(time.Since(start).Seconds())
	}()

	today := clock.Today(g.clock, g.loc)
	var res Result

	if err := g.appointmentPass(ctx, today, &res); err != nil {
		g.log.Error().Err(err).Msg("appointment reminder pass aborted")
		return res, err
	}
	if err := g.followUpPass(ctx, today, &res); err != nil {
		g.log.Error().Err(err).Msg("follow-up reminder pass aborted")
		return res, err
	}

	g.log.Info().
		Str("today", slot.FormatDate(today)).
		Int("appointment_reminders", res.AppointmentReminders).
		Int("followup_reminders", res.FollowUpReminders).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("reminder run finished")

	return res, nil
}

func abort(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRunAborted, what, err)
}

func nameOr(names map[uuid.UUID]string, id uuid.UUID) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return unknownPatient
}

func (g *Generator) appointmentPass(ctx context.Context, today time.Time, res *Result) error {
	tomorrow := today.AddDate(0, 0, 1)
	scheduled := appointment.StatusScheduled

	appts, err := g.appts.List(ctx, appointment.Filter{Date: &tomorrow, Status: &scheduled})
	if err != nil {
		return abort("load tomorrow's appointments", err)
	}
	if len(appts) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.PatientID)
	}
	names, err := g.people.PatientNames(ctx, ids)
	if err != nil {
		return abort("load patient names", err)
	}

	for _, a := range appts {
		patient := nameOr(names, a.PatientID)
		date := slot.FormatDate(a.Date)

		data, _ := json.Marshal(map[string]string{
			"appointment_id": a.ID.String(),
			"patient_id":     a.PatientID.String(),
			"patient_name":   patient,
			"date":           date,
			"time":           a.Time.String(),
			"treatment":      a.Treatment,
		})
		n := notification.Notification{
			UserID:  a.DoctorID,
			Type:    notification.TypeAppointment,
			Title:   "Appointment tomorrow",
			Message: fmt.Sprintf("%s has an appointment on %s at %s (%s).", patient, date, a.Time, a.Treatment),
			Data:    data,
		}
		key := AppointmentKey(a)

		if g.deliver(ctx, "appointment", key, n, res) {
			res.AppointmentReminders++
		}
	}
	return nil
}

// followUpPass notifies every doctor, not only the treating one, when a
// patient's latest treatment is exactly one of the milestone ages.
func (g *Generator) followUpPass(ctx context.Context, today time.Time, res *Result) error {
	cutoff := today.AddDate(0, 0, -slices.Min(g.milestones))

	entries, err := g.treatments.ListOnOrBefore(ctx, cutoff)
	if err != nil {
		return abort("load treatment log", err)
	}

	type due struct {
		entry treatment.Entry
		days  int
	}
	var pending []due
	for _, e := range treatment.LatestPerPatient(entries) {
		days := slot.DaysBetween(e.Date, today)
		if slices.Contains(g.milestones, days) {
			pending = append(pending, due{entry: e, days: days})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	doctors, err := g.people.ListUsersByRole(ctx, directory.RoleDoctor)
	if err != nil {
		return abort("load doctors", err)
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.entry.PatientID)
	}
	names, err := g.people.PatientNames(ctx, ids)
	if err != nil {
		return abort("load patient names", err)
	}

	for _, p := range pending {
		patient := nameOr(names, p.entry.PatientID)
		last := slot.FormatDate(p.entry.Date)
		kind := fmt.Sprintf("followup_%d", p.days)

		data, _ := json.Marshal(map[string]any{
			"patient_id":          p.entry.PatientID.String(),
			"patient_name":        patient,
			"last_treatment_date": last,
			"last_treatment":      p.entry.Treatment,
			"days_since":          p.days,
		})

		for _, doc := range doctors {
			n := notification.Notification{
				UserID:  doc.ID,
				Type:    notification.TypeReminder,
				Title:   fmt.Sprintf("%d-day follow-up due", p.days),
				Message: fmt.Sprintf("%s was last treated on %s, %d days ago.", patient, last, p.days),
				Data:    data,
			}
			if g.deliver(ctx, kind, FollowUpKey(p.entry, p.days, doc.ID), n, res) {
				res.FollowUpReminders++
			}
		}
	}
	return nil
}

// deliver reports whether a new notification was written. Write errors are
// logged and counted; they never stop the pass.
func (g *Generator) deliver(ctx context.Context, kind, key string, n notification.Notification, res *Result) bool {
	created, err := g.sink.DeliverOnce(ctx, key, n)
	if err != nil {
		res.Failed++
		metrics.RemindersFailed.WithLabelValues(kind).Inc()
		g.log.Error().Err(err).
			Str("kind", kind).
			Str("key", key).
			Str("user_id", n.UserID.String()).
			Msg("reminder not delivered")
		return false
	}
	if !created {
		res.Skipped++
		return false
	}
	metrics.RemindersSent.WithLabelValues(kind).Inc()
	return true
}

// AppointmentKey identifies the next-day reminder for one appointment at one
// slot. Moving the appointment produces a new key.
func AppointmentKey(a appointment.Appointment) string {
	return fmt.Sprintf("appointment:next-day:%s:%s", a.ID, a.SlotKey())
}

// FollowUpKey identifies one doctor's milestone reminder for a patient's
// treatment on a given date.
func FollowUpKey(e treatment.Entry, days int, doctorID uuid.UUID) string {
	return fmt.Sprintf("followup:%s:%d:%s:%s", e.PatientID, days, slot.FormatDate(e.Date), doctorID)
}
