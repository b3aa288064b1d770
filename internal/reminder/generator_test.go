package reminder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type harness struct {
	gen     *reminder.Generator
	clk     *clock.Fixed
	store   *memstore.Store
	notes   *notification.Service
	doctors []directory.User
	patient directory.Patient
	today   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	notes := notification.NewService(store.Notifications, realtime.NewHub(8), clk, 20, zerolog.Nop())

	h := &harness{
		clk:   clk,
		store: store,
		notes: notes,
		today: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		doctors: []directory.User{
			store.Directory.AddUser(directory.User{Name: "Dr. A", Role: directory.RoleDoctor}),
			store.Directory.AddUser(directory.User{Name: "Dr. B", Role: directory.RoleDoctor}),
			store.Directory.AddUser(directory.User{Name: "Dr. C", Role: directory.RoleDoctor}),
		},
		patient: store.Directory.AddPatient(directory.Patient{Name: "Jane Roe"}),
	}
	store.Directory.AddUser(directory.User{Name: "Desk", Role: directory.RoleReceptionist})

	h.gen = reminder.NewGenerator(store.Appointments, store.Treatments, store.Directory, notes, clk, time.UTC, zerolog.Nop())
	return h
}

func (h *harness) put(doctor uuid.UUID, date time.Time, hh int, status appointment.AppointmentStatus) appointment.Appointment {
	a := appointment.Appointment{
		ID:        uuid.New(),
		PatientID: h.patient.ID,
		DoctorID:  doctor,
		Date:      date,
		Time:      slot.NewTimeOfDay(hh, 0),
		Treatment: "Filling",
		Status:    status,
	}
	h.store.Appointments.Put(a)
	return a
}

func (h *harness) treat(patient uuid.UUID, daysAgo int) {
	_, err := h.store.Treatments.Record(context.Background(), treatment.Entry{
		PatientID: patient,
		DoctorID:  h.doctors[0].ID,
		Date:      h.today.AddDate(0, 0, -daysAgo),
		Treatment: "Root canal",
	})
	if err != nil {
		panic(err)
	}
}

func (h *harness) countByType(typ notification.Type) int {
	n := 0
	for _, row := range h.store.Notifications.All() {
		if row.Type == typ {
			n++
		}
	}
	return n
}

func TestAppointmentPass(t *testing.T) {
	h := newHarness(t)
	tomorrow := h.today.AddDate(0, 0, 1)

	a1 := h.put(h.doctors[0].ID, tomorrow, 9, appointment.StatusScheduled)
	h.put(h.doctors[1].ID, tomorrow, 10, appointment.StatusScheduled)
	h.put(h.doctors[0].ID, tomorrow, 11, appointment.StatusCancelled)
	h.put(h.doctors[0].ID, h.today, 12, appointment.StatusScheduled)
	h.put(h.doctors[0].ID, tomorrow.AddDate(0, 0, 1), 12, appointment.StatusScheduled)

	res, err := h.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.AppointmentReminders)
	assert.Equal(t, 2, res.Sent())
	assert.Equal(t, 2, h.countByType(notification.TypeAppointment))

	list, err := h.notes.List(context.Background(), h.doctors[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, "Jane Roe")
	assert.Contains(t, list[0].Message, "2024-06-11")
	assert.Contains(t, list[0].Message, "09:00")
	assert.Contains(t, string(list[0].Data), a1.ID.String())
}

func TestFollowUpPass_ExactMilestones(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.treat(h.patient.ID, 30)

	res, err := h.gen.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(h.doctors), res.FollowUpReminders, "one per doctor")
	for _, d := range h.doctors {
		list, err := h.notes.List(ctx, d.ID, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, notification.TypeReminder, list[0].Type)
		assert.Contains(t, list[0].Message, "30 days")
	}

	// next day the same treatment is 31 days old: no milestone
	h.clk.Advance(24 * time.Hour)
	res, err = h.gen.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.FollowUpReminders)
	assert.Zero(t, res.Skipped)
}

func TestFollowUpPass_LatestTreatmentWins(t *testing.T) {
	h := newHarness(t)
	other := h.store.Directory.AddPatient(directory.Patient{Name: "John Doe"})

	// latest qualifying entry is 45 days old, so the 60-day entry is ignored
	h.treat(h.patient.ID, 60)
	h.treat(h.patient.ID, 45)
	// a treatment newer than the cutoff is not considered at all
	h.treat(other.ID, 90)
	h.treat(other.ID, 5)

	res, err := h.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(h.doctors), res.FollowUpReminders)

	for _, n := range h.store.Notifications.All() {
		assert.Contains(t, n.Message, "John Doe")
		assert.Contains(t, n.Message, "90 days")
	}
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.put(h.doctors[0].ID, h.today.AddDate(0, 0, 1), 9, appointment.StatusScheduled)
	h.treat(h.patient.ID, 60)

	first, err := h.gen.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1+len(h.doctors), first.Sent())

	second, err := h.gen.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Sent())
	assert.Equal(t, first.Sent(), second.Skipped)
	assert.Len(t, h.store.Notifications.All(), first.Sent())
}

func TestRun_PartialFailureContinues(t *testing.T) {
	h := newHarness(t)
	tomorrow := h.today.AddDate(0, 0, 1)
	h.put(h.doctors[0].ID, tomorrow, 9, appointment.StatusScheduled)
	h.put(h.doctors[1].ID, tomorrow, 9, appointment.StatusScheduled)

	broken := h.doctors[0].ID
	h.store.Notifications.FailInsert = func(n notification.Notification) error {
		if n.UserID == broken {
			return errors.New("disk full")
		}
		return nil
	}

	res, err := h.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppointmentReminders)
	assert.Equal(t, 1, res.Failed)
}

type failingLog struct{ treatment.Log }

func (failingLog) ListOnOrBefore(context.Context, time.Time) ([]treatment.Entry, error) {
	return nil, errors.New("connection reset")
}

func TestRun_ReadFailureAborts(t *testing.T) {
	h := newHarness(t)
	gen := reminder.NewGenerator(h.store.Appointments, failingLog{}, h.store.Directory, h.notes, h.clk, time.UTC, zerolog.Nop())

	_, err := gen.Run(context.Background())
	assert.ErrorIs(t, err, reminder.ErrRunAborted)
	assert.Contains(t, err.Error(), "connection reset")
}

type failingAppointments struct{}

func (failingAppointments) List(context.Context, appointment.Filter) ([]appointment.Appointment, error) {
	return nil, errors.New("statement timeout")
}

type countingLog struct {
	treatment.Log
	calls int
}

func (l *countingLog) ListOnOrBefore(ctx context.Context, cutoff time.Time) ([]treatment.Entry, error) {
	l.calls++
	return l.Log.ListOnOrBefore(ctx, cutoff)
}

func TestRun_AppointmentReadFailureSkipsFollowUps(t *testing.T) {
	h := newHarness(t)
	h.treat(h.patient.ID, 30)
	log := &countingLog{Log: h.store.Treatments}
	gen := reminder.NewGenerator(failingAppointments{}, log, h.store.Directory, h.notes, h.clk, time.UTC, zerolog.Nop())

	res, err := gen.Run(context.Background())
	require.ErrorIs(t, err, reminder.ErrRunAborted)
	assert.Contains(t, err.Error(), "statement timeout")
	assert.Zero(t, log.calls, "follow-up pass never ran")
	assert.Zero(t, res.Sent())

	for _, d := range h.doctors {
		n, err := h.notes.UnreadCount(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestRun_ClinicTimezone(t *testing.T) {
	h := newHarness(t)
	// 23:30 UTC on the 9th is already the 10th in UTC+2
	h.clk.Set(time.Date(2024, 6, 9, 23, 30, 0, 0, time.UTC))
	loc := time.FixedZone("UTC+2", 2*3600)
	gen := reminder.NewGenerator(h.store.Appointments, h.store.Treatments, h.store.Directory, h.notes, h.clk, loc, zerolog.Nop())

	h.put(h.doctors[0].ID, h.today.AddDate(0, 0, 1), 9, appointment.StatusScheduled)

	res, err := gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppointmentReminders)
}

type heldLocker struct{}

func (heldLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestWithDailyLock(t *testing.T) {
	h := newHarness(t)

	_, err := reminder.WithDailyLock(h.gen, heldLocker{}, h.clk, time.UTC).Run(context.Background())
	assert.ErrorIs(t, err, reminder.ErrRunInProgress)

	h.put(h.doctors[0].ID, h.today.AddDate(0, 0, 1), 9, appointment.StatusScheduled)
	res, err := reminder.WithDailyLock(h.gen, redisclient.NopLocker{}, h.clk, time.UTC).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent())
}

func TestKeys(t *testing.T) {
	a := appointment.Appointment{
		ID:       uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		DoctorID: uuid.MustParse("dddddddd-0000-0000-0000-000000000001"),
		Date:     time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
		Time:     slot.NewTimeOfDay(9, 0),
	}
	assert.Equal(t,
		"appointment:next-day:aaaaaaaa-0000-0000-0000-000000000001:dddddddd-0000-0000-0000-000000000001:2024-06-11:09:00",
		reminder.AppointmentKey(a))

	moved := a
	moved.Time = slot.NewTimeOfDay(10, 0)
	assert.NotEqual(t, reminder.AppointmentKey(a), reminder.AppointmentKey(moved))
}
