//go:build integration

package db_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, dsn, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	pool, err = db.ConnectPostgres(ctx, dsn, 25)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "clinic_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return c, "", err
	}

	dsn := fmt.Sprintf("postgres://test:testpass@%s:%s/clinic_test?sslmode=disable", host, port.Port())
	return c, dsn, nil
}

type fixture struct {
	doctor  uuid.UUID
	patient uuid.UUID
}

func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{doctor: uuid.New(), patient: uuid.New()}

	_, err := pool.Exec(ctx, `INSERT INTO users (id, full_name, role) VALUES ($1, 'Dr. Test', 'doctor')`, f.doctor)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO patients (id, full_name) VALUES ($1, 'Pat Test')`, f.patient)
	require.NoError(t, err)
	return f
}

func newAppointments() *appointment.Service {
	return appointment.NewService(
		appointment.NewPgRepository(pool),
		directory.NewPgDirectory(pool),
		redisclient.NopLocker{},
		clock.System(),
		zerolog.Nop(),
	)
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	applied, err := db.NewMigrator(pool, db.Migrations()).Up(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)

	status, err := db.NewMigrator(pool, db.Migrations()).Status(context.Background())
	require.NoError(t, err)
	for _, s := range status {
		assert.True(t, s.Applied, s.Name)
	}
}

// No Redis lock here: only the partial unique index stands between the racers.
func TestBooking_ConcurrentSameSlot(t *testing.T) {
	f := seed(t)
	svc := newAppointments()
	date, _ := slot.ParseDate("2030-01-15")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(context.Background(), appointment.BookRequest{
				PatientID: f.patient,
				DoctorID:  f.doctor,
				Date:      date,
				Time:      slot.NewTimeOfDay(10, 0),
				Treatment: "Cleaning",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appointment.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestBooking_CancelFreesSlotAndUnknownRefs(t *testing.T) {
	f := seed(t)
	svc := newAppointments()
	ctx := context.Background()
	date, _ := slot.ParseDate("2030-02-01")
	req := appointment.BookRequest{
		PatientID: f.patient,
		DoctorID:  f.doctor,
		Date:      date,
		Time:      slot.NewTimeOfDay(11, 30),
		Treatment: "Filling",
	}

	first, err := svc.Book(ctx, req)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, first.ID, appointment.StatusCancelled)
	require.NoError(t, err)

	second, err := svc.Book(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	unknown := req
	unknown.PatientID = uuid.New()
	unknown.Time = slot.NewTimeOfDay(12, 0)
	_, err = svc.Book(ctx, unknown)
	assert.ErrorIs(t, err, appointment.ErrNotFound)
}

func TestReschedule_ConflictLeavesRowUntouched(t *testing.T) {
	f := seed(t)
	svc := newAppointments()
	ctx := context.Background()
	date, _ := slot.ParseDate("2030-03-01")

	book := func(hh int) *appointment.Appointment {
		a, err := svc.Book(ctx, appointment.BookRequest{
			PatientID: f.patient, DoctorID: f.doctor, Date: date,
			Time: slot.NewTimeOfDay(hh, 0), Treatment: "Check-up",
		})
		require.NoError(t, err)
		return a
	}
	a, b := book(9), book(10)

	_, err := svc.Reschedule(ctx, b.ID, date, a.Time)
	require.ErrorIs(t, err, appointment.ErrConflict)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Time, got.Time)

	same, err := svc.Reschedule(ctx, a.ID, date, a.Time)
	require.NoError(t, err)
	assert.Equal(t, a.Time, same.Time)
}

func TestNotifications_InsertOnceSurvivesDelete(t *testing.T) {
	f := seed(t)
	repo := notification.NewPgRepository(pool)
	ctx := context.Background()
	key := "followup:" + f.patient.String() + ":30:2030-01-01:" + f.doctor.String()

	n := notification.Notification{UserID: f.doctor, Type: notification.TypeReminder, Title: "Follow-up", Message: "30 days"}

	created, err := repo.InsertOnce(ctx, key, n)
	require.NoError(t, err)

	_, err = repo.InsertOnce(ctx, key, n)
	assert.ErrorIs(t, err, notification.ErrAlreadyDelivered)

	_, err = repo.Delete(ctx, f.doctor, created.ID)
	require.NoError(t, err)

	_, err = repo.InsertOnce(ctx, key, n)
	assert.ErrorIs(t, err, notification.ErrAlreadyDelivered)

	count, err := repo.CountUnread(ctx, f.doctor)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifications_MarkAllReadScopedToUser(t *testing.T) {
	a, b := seed(t), seed(t)
	repo := notification.NewPgRepository(pool)
	ctx := context.Background()

	for _, user := range []uuid.UUID{a.doctor, a.doctor, b.doctor} {
		_, err := repo.Insert(ctx, notification.Notification{UserID: user, Type: notification.TypeSuccess, Title: "t"})
		require.NoError(t, err)
	}

	changed, err := repo.MarkAllRead(ctx, a.doctor)
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	unread, err := repo.CountUnread(ctx, b.doctor)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMessages_DeleteIsPerSide(t *testing.T) {
	a, b := seed(t), seed(t)
	repo := mailbox.NewPgRepository(pool)
	ctx := context.Background()

	m, err := repo.Insert(ctx, mailbox.Message{FromUserID: a.doctor, ToUserID: b.doctor, Subject: "s", Body: "b"})
	require.NoError(t, err)

	_, fromInbox, err := repo.Delete(ctx, a.doctor, m.ID)
	require.NoError(t, err)
	assert.False(t, fromInbox)

	inbox, err := repo.Inbox(ctx, b.doctor, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	sent, err := repo.Sent(ctx, a.doctor, 10)
	require.NoError(t, err)
	assert.Empty(t, sent)

	_, _, err = repo.Delete(ctx, a.doctor, m.ID)
	assert.ErrorIs(t, err, mailbox.ErrNotFound)

	_, fromInbox, err = repo.Delete(ctx, b.doctor, m.ID)
	require.NoError(t, err)
	assert.True(t, fromInbox)

	var left int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE id = $1`, m.ID).Scan(&left))
	assert.Zero(t, left, "row removed once both sides deleted it")
}
