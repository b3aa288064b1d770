package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// IsOccupied reports whether doctorID already holds an active appointment at (date, t).
// Other doctors' appointments at the same time do not count.
func IsOccupied(date time.Time, doctorID uuid.UUID, t slot.TimeOfDay, appts []Appointment) bool {
	return occupant(date, doctorID, t, appts, uuid.Nil) != nil
}

func occupant(date time.Time, doctorID uuid.UUID, t slot.TimeOfDay, appts []Appointment, exclude uuid.UUID) *Appointment {
	day := slot.DateOf(date)
	for i := range appts {
		a := &appts[i]
		if a.ID == exclude && exclude != uuid.Nil {
			continue
		}
		if !a.Active() || a.DoctorID != doctorID || a.Time != t {
			continue
		}
		if slot.DateOf(a.Date).Equal(day) {
			return a
		}
	}
	return nil
}

type SlotAvailability struct {
	Time          slot.TimeOfDay
	Occupied      bool
	AppointmentID *uuid.UUID
}

// Occupancy annotates every grid slot on date with the doctor's current booking.
func Occupancy(grid slot.Grid, date time.Time, doctorID uuid.UUID, appts []Appointment) []SlotAvailability {
	var out []SlotAvailability
	for t := range grid.All() {
		sa := SlotAvailability{Time: t}
		if a := occupant(date, doctorID, t, appts, uuid.Nil); a != nil {
			id := a.ID
			sa.Occupied = true
			sa.AppointmentID = &id
		}
		out = append(out, sa)
	}
	return out
}
