package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentStatus      = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

type BookRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      slot.TimeOfDay
	Treatment string
	Tooth     *string
	Notes     *string
}

type Service struct {
	repo   Repository
	people directory.Directory
	locker redisclient.Locker
	grid   slot.Grid
	clock  clock.Clock
	log    zerolog.Logger
}

func NewService(repo Repository, people directory.Directory, locker redisclient.Locker, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		people: people,
		locker: locker,
		grid:   slot.DefaultGrid(),
		clock:  clk,
		log:    log.With().Str("component", "appointments").Logger(),
	}
}

func (s *Service) Grid() slot.Grid { return s.grid }

func (s *Service) validateSlot(date time.Time, t slot.TimeOfDay) error {
	if date.IsZero() {
		return validationError("date is required")
	}
	if !s.grid.Contains(t) {
		return validationError("time %s is not on the %02d:00-%02d:00 slot grid", t, s.grid.OpenHour, s.grid.CloseHour)
	}
	return nil
}

func (r BookRequest) validate() error {
	var missing []string
	if r.PatientID == uuid.Nil {
		missing = append(missing, "patient_id")
	}
	if r.DoctorID == uuid.Nil {
		missing = append(missing, "doctor_id")
	}
	if r.Date.IsZero() {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(r.Treatment) == "" {
		missing = append(missing, "treatment")
	}
	if len(missing) > 0 {
		return validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) checkDoctor(ctx context.Context, doctorID uuid.UUID) error {
	u, err := s.people.GetUser(ctx, doctorID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return fmt.Errorf("doctor %s: %w", doctorID, ErrReferenceNotFound)
		}
		return fmt.Errorf("load doctor: %w", err)
	}
	if u.Role != directory.RoleDoctor {
		return validationError("user %s is not a doctor", doctorID)
	}
	return nil
}

func slotLockKey(k slot.Key) string {
	return "slot:" + k.String()
}

// Book reserves a slot for a patient.
// The per-slot lock keeps concurrent callers out of the check-then-insert
// window; the store's uniqueness constraint is what actually guarantees it.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.validateSlot(req.Date, req.Time); err != nil {
		return nil, err
	}
	if err := s.checkDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	date := slot.DateOf(req.Date)
	key := slot.Key{DoctorID: req.DoctorID, Date: date, Time: req.Time}

	var created *Appointment

	err := s.locker.WithLock(ctx, slotLockKey(key), func(lockCtx context.Context) error {
		existing, err := s.repo.List(lockCtx, Filter{Date: &date, DoctorID: &req.DoctorID})
		if err != nil {
			return fmt.Errorf("load doctor day: %w", err)
		}
		if IsOccupied(date, req.DoctorID, req.Time, existing) {
			return ErrSlotAlreadyBooked
		}

		appt, err := s.repo.Create(lockCtx, Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      date,
			Time:      req.Time,
			Treatment: strings.TrimSpace(req.Treatment),
			Tooth:     req.Tooth,
			Notes:     req.Notes,
			Status:    StatusScheduled,
		})
		if err != nil {
			return err
		}
		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id": req.PatientID.String(),
			"doctor_id":  req.DoctorID.String(),
			"date":       slot.FormatDate(date),
			"time":       req.Time.String(),
		})
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			metrics.BookingConflicts.WithLabelValues("locked").Inc()
			return nil, ErrSlotBeingBooked
		case errors.Is(err, ErrSlotAlreadyBooked):
			metrics.BookingConflicts.WithLabelValues("occupied").Inc()
			return nil, err
		case errors.Is(err, ErrNotFound):
			return nil, err
		}
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	metrics.AppointmentsBooked.Inc()
	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot", key.String()).
		Msg("appointment booked")

	return created, nil
}

// SetStatus applies a status machine transition.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !to.Valid() {
		return nil, validationError("unknown status %q", to)
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := CheckTransition(appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// lost the race: someone else moved it first
			return nil, s.transitionRaceError(ctx, id, to)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	s.logEvent(ctx, id, EventAppointmentStatus, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

func (s *Service) transitionRaceError(ctx context.Context, id uuid.UUID, to AppointmentStatus) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload appointment: %w", err)
	}
	if err := CheckTransition(current.Status, to); err != nil {
		return err
	}
	return fmt.Errorf("%w: appointment changed concurrently, retry", ErrInvalidTransition)
}

// Reschedule moves an appointment to another slot, leaving status untouched.
// Only scheduled appointments can be moved.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, t slot.TimeOfDay) (*Appointment, error) {
	if err := s.validateSlot(date, t); err != nil {
		return nil, err
	}
	date = slot.DateOf(date)

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot move a %s appointment", ErrInvalidTransition, appt.Status)
	}

	from := appt.SlotKey()
	to := slot.Key{DoctorID: appt.DoctorID, Date: date, Time: t}

	var moved *Appointment

	err = s.locker.WithLock(ctx, slotLockKey(to), func(lockCtx context.Context) error {
		existing, err := s.repo.List(lockCtx, Filter{Date: &date, DoctorID: &appt.DoctorID})
		if err != nil {
			return fmt.Errorf("load doctor day: %w", err)
		}
		if occupant(date, appt.DoctorID, t, existing, appt.ID) != nil {
			return ErrSlotAlreadyBooked
		}

		m, err := s.repo.Reschedule(lockCtx, id, date, t)
		if err != nil {
			return err
		}
		moved = m
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			metrics.BookingConflicts.WithLabelValues("locked").Inc()
			return nil, ErrSlotBeingBooked
		case errors.Is(err, ErrSlotAlreadyBooked):
			metrics.BookingConflicts.WithLabelValues("occupied").Inc()
			return nil, err
		case errors.Is(err, ErrAppointmentNotFound):
			// the row exists, so the status guard failed
			return nil, fmt.Errorf("%w: appointment is no longer scheduled", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("appointment rescheduled")

	return moved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, error) {
	appts, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Availability returns the doctor's grid for date with occupancy filled in.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotAvailability, error) {
	if doctorID == uuid.Nil || date.IsZero() {
		return nil, validationError("doctor_id and date are required")
	}
	date = slot.DateOf(date)
	appts, err := s.repo.List(ctx, Filter{Date: &date, DoctorID: &doctorID})
	if err != nil {
		return nil, fmt.Errorf("load doctor day: %w", err)
	}
	return Occupancy(s.grid, date, doctorID, appts), nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
