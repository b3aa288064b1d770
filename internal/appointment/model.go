package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      slot.TimeOfDay
	Treatment string
	Tooth     *string
	Notes     *string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active appointments hold their slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

func (a Appointment) SlotKey() slot.Key {
	return slot.Key{DoctorID: a.DoctorID, Date: slot.DateOf(a.Date), Time: a.Time}
}

// Filter narrows List. Nil fields are ignored.
type Filter struct {
	Date     *time.Time
	DoctorID *uuid.UUID
	Status   *AppointmentStatus
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
