package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type Appointments struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]appointment.Appointment
	events []appointment.EventLog
	dir    *Directory
	clock  clock.Clock
}

func NewAppointments(dir *Directory, clk clock.Clock) *Appointments {
	return &Appointments{
		rows:  make(map[uuid.UUID]appointment.Appointment),
		dir:   dir,
		clock: clk,
	}
}

// activeAt must be called with mu held.
func (s *Appointments) activeAt(k slot.Key, exclude uuid.UUID) bool {
	for id, a := range s.rows {
		if id == exclude || !a.Active() {
			continue
		}
		if a.DoctorID == k.DoctorID && a.Time == k.Time && a.Date.Equal(k.Date) {
			return true
		}
	}
	return false
}

func (s *Appointments) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Appointments) List(_ context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.rows {
		if f.Date != nil && !a.Date.Equal(slot.DateOf(*f.Date)) {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b appointment.Appointment) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Time, b.Time); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Appointments) Create(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	if s.dir != nil && (!s.dir.hasPatient(a.PatientID) || !s.dir.hasUser(a.DoctorID)) {
		return nil, appointment.ErrReferenceNotFound
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = appointment.StatusScheduled
	}
	a.Date = slot.DateOf(a.Date)
	now := s.clock.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Active() && s.activeAt(a.SlotKey(), uuid.Nil) {
		return nil, appointment.ErrSlotAlreadyBooked
	}
	s.rows[a.ID] = a
	return &a, nil
}

func (s *Appointments) UpdateStatus(_ context.Context, id uuid.UUID, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = s.clock.Now()
	s.rows[id] = a
	return &a, nil
}

func (s *Appointments) Reschedule(_ context.Context, id uuid.UUID, date time.Time, t slot.TimeOfDay) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok || a.Status != appointment.StatusScheduled {
		return nil, appointment.ErrAppointmentNotFound
	}
	target := slot.Key{DoctorID: a.DoctorID, Date: slot.DateOf(date), Time: t}
	if s.activeAt(target, id) {
		return nil, appointment.ErrSlotAlreadyBooked
	}
	a.Date = target.Date
	a.Time = t
	a.UpdatedAt = s.clock.Now()
	s.rows[id] = a
	return &a, nil
}

func (s *Appointments) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

func (s *Appointments) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Put stores a row as-is, bypassing checks. Used to stage fixtures.
func (s *Appointments) Put(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Date = slot.DateOf(a.Date)
	s.rows[a.ID] = a
}
