package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

func TestIsOccupied(t *testing.T) {
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	docA, docB := uuid.New(), uuid.New()
	ten := slot.NewTimeOfDay(10, 0)

	appts := []Appointment{
		{ID: uuid.New(), DoctorID: docA, Date: day, Time: ten, Status: StatusScheduled},
		{ID: uuid.New(), DoctorID: docA, Date: day, Time: slot.NewTimeOfDay(11, 0), Status: StatusCancelled},
		{ID: uuid.New(), DoctorID: docA, Date: day, Time: slot.NewTimeOfDay(12, 0), Status: StatusCompleted},
	}

	assert.True(t, IsOccupied(day, docA, ten, appts))
	assert.False(t, IsOccupied(day, docB, ten, appts), "occupancy is per doctor")
	assert.False(t, IsOccupied(day.AddDate(0, 0, 1), docA, ten, appts))
	assert.False(t, IsOccupied(day, docA, slot.NewTimeOfDay(11, 0), appts), "cancelled frees the slot")
	assert.True(t, IsOccupied(day, docA, slot.NewTimeOfDay(12, 0), appts), "completed still holds it")
	assert.False(t, IsOccupied(day, docA, ten, nil))
}

func TestOccupancy(t *testing.T) {
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	doc := uuid.New()
	id := uuid.New()
	appts := []Appointment{{ID: id, DoctorID: doc, Date: day, Time: slot.NewTimeOfDay(9, 30), Status: StatusScheduled}}

	grid := Occupancy(slot.DefaultGrid(), day, doc, appts)
	require.Len(t, grid, 16)

	assert.False(t, grid[0].Occupied)
	assert.True(t, grid[1].Occupied)
	require.NotNil(t, grid[1].AppointmentID)
	assert.Equal(t, id, *grid[1].AppointmentID)
}
