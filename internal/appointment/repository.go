package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// Repository contains all DB interactions needed by the service.
//
// Implementations must enforce "one active appointment per (doctor, date, time)"
// atomically and report a violation as ErrSlotAlreadyBooked.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]Appointment, error)

	// Create returns ErrReferenceNotFound when the patient or doctor does not exist.
	Create(ctx context.Context, a Appointment) (*Appointment, error)

	// UpdateStatus only applies while the row still has status from.
	// ErrAppointmentNotFound means no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Reschedule moves a scheduled appointment in a single conditional write.
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time, t slot.TimeOfDay) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
