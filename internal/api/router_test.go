package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

type testApp struct {
	handler   http.Handler
	store     *memstore.Store
	hub       *realtime.Hub
	notes     *notification.Service
	doctor    directory.User
	doctor2   directory.User
	desk      directory.User
	patient   directory.Patient
	reminders reminder.Runner
}

type runnerFunc func(ctx context.Context) (reminder.Result, error)

func (f runnerFunc) Run(ctx context.Context) (reminder.Result, error) { return f(ctx) }

func newTestApp(t *testing.T, opts ...func(*RouterConfig)) *testApp {
	t.Helper()

	clk := clock.NewFixed(time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	hub := realtime.NewHub(16)
	log := zerolog.Nop()

	notes := notification.NewService(store.Notifications, hub, clk, notification.DefaultPageSize, log)
	appts := appointment.NewService(store.Appointments, store.Directory, redisclient.NopLocker{}, clk, log)
	mail := mailbox.NewService(store.Messages, hub, notes, store.Directory, clk, log)
	gen := reminder.NewGenerator(store.Appointments, store.Treatments, store.Directory, notes, clk, time.UTC, log)

	app := &testApp{
		store:     store,
		hub:       hub,
		notes:     notes,
		doctor:    store.Directory.AddUser(directory.User{Name: "Dr. Molar", Role: directory.RoleDoctor}),
		doctor2:   store.Directory.AddUser(directory.User{Name: "Dr. Canine", Role: directory.RoleDoctor}),
		desk:      store.Directory.AddUser(directory.User{Name: "Front Desk", Role: directory.RoleReceptionist}),
		patient:   store.Directory.AddPatient(directory.Patient{Name: "Jane Roe"}),
		reminders: gen,
	}

	cfg := RouterConfig{
		Appointments:  appts,
		Notifications: notes,
		Mailbox:       mail,
		Reminders:     gen,
		Feed:          hub,
		Logger:        log,
		Env:           "test",
	}
	for _, o := range opts {
		o(&cfg)
	}
	app.handler = NewRouter(cfg)
	return app
}

func (a *testApp) do(t *testing.T, method, path string, body any, user *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("X-User-ID", user.String())
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) book(t *testing.T, doctor uuid.UUID, date, at string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: a.patient.ID.String(),
		DoctorID:  doctor.String(),
		Date:      date,
		Time:      at,
		Treatment: "Cleaning",
	}, nil)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	down := errors.New("down")

	t.Run("live", func(t *testing.T) {
		app := newTestApp(t)
		rec := app.do(t, http.MethodGet, "/health/live", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("degraded when optional dependency is down", func(t *testing.T) {
		app := newTestApp(t, func(c *RouterConfig) {
			c.Checks = []Check{
				{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
				{Name: "redis", Ping: func(context.Context) error { return down }},
			}
		})
		rec := app.do(t, http.MethodGet, "/health/ready", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ReadinessResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down", resp.Dependencies["redis"])
	})

	t.Run("unready when critical dependency is down", func(t *testing.T) {
		app := newTestApp(t, func(c *RouterConfig) {
			c.Checks = []Check{{Name: "postgres", Critical: true, Ping: func(context.Context) error { return down }}}
		})
		rec := app.do(t, http.MethodGet, "/health/ready", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestBooking_ConflictAcrossDoctors(t *testing.T) {
	app := newTestApp(t)

	rec := app.book(t, app.doctor.ID, "2024-06-11", "10:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", created.Status)
	assert.Equal(t, "2024-06-11", created.Date)
	assert.Equal(t, "10:00", created.Time)

	rec = app.book(t, app.doctor.ID, "2024-06-11", "10:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)

	rec = app.book(t, app.doctor2.ID, "2024-06-11", "10:00")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = app.do(t, http.MethodGet, "/slots?doctor_id="+app.doctor.ID.String()+"&date=2024-06-11", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec)
	require.Len(t, slots.Slots, 16)
	for _, s := range slots.Slots {
		if s.Time == "10:00" {
			assert.True(t, s.Occupied)
			require.NotNil(t, s.AppointmentID)
			assert.Equal(t, created.ID, *s.AppointmentID)
		} else {
			assert.False(t, s.Occupied, s.Time)
		}
	}

	rec = app.do(t, http.MethodGet, "/appointments?date=2024-06-11", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AppointmentListResponse](t, rec).Appointments, 2)
}

func TestBooking_BadInput(t *testing.T) {
	app := newTestApp(t)

	cases := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"off grid", BookAppointmentRequest{PatientID: app.patient.ID.String(), DoctorID: app.doctor.ID.String(), Date: "2024-06-11", Time: "10:15", Treatment: "x"}, http.StatusBadRequest, "validation_error"},
		{"missing treatment", BookAppointmentRequest{PatientID: app.patient.ID.String(), DoctorID: app.doctor.ID.String(), Date: "2024-06-11", Time: "10:00"}, http.StatusBadRequest, "validation_error"},
		{"bad uuid", BookAppointmentRequest{PatientID: "nope", DoctorID: app.doctor.ID.String(), Date: "2024-06-11", Time: "10:00", Treatment: "x"}, http.StatusBadRequest, "invalid_request"},
		{"bad date", BookAppointmentRequest{PatientID: app.patient.ID.String(), DoctorID: app.doctor.ID.String(), Date: "11/06/2024", Time: "10:00", Treatment: "x"}, http.StatusBadRequest, "invalid_request"},
		{"unknown doctor", BookAppointmentRequest{PatientID: app.patient.ID.String(), DoctorID: uuid.NewString(), Date: "2024-06-11", Time: "10:00", Treatment: "x"}, http.StatusNotFound, "not_found"},
		{"unknown field", map[string]string{"slot_id": "x"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/appointments", tc.body, nil)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.err, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAppointment_StatusAndReschedule(t *testing.T) {
	app := newTestApp(t)

	first := decode[AppointmentResponse](t, app.book(t, app.doctor.ID, "2024-06-11", "09:00"))
	second := decode[AppointmentResponse](t, app.book(t, app.doctor.ID, "2024-06-11", "09:30"))

	rec := app.do(t, http.MethodPatch, "/appointments/"+second.ID.String()+"/schedule", RescheduleRequest{Date: "2024-06-11", Time: "09:00"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodPatch, "/appointments/"+second.ID.String()+"/schedule", RescheduleRequest{Date: "2024-06-12", Time: "11:30"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "2024-06-12", moved.Date)
	assert.Equal(t, "11:30", moved.Time)

	rec = app.do(t, http.MethodPatch, "/appointments/"+first.ID.String()+"/status", UpdateStatusRequest{Status: "completed"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = app.do(t, http.MethodPatch, "/appointments/"+first.ID.String()+"/status", UpdateStatusRequest{Status: "scheduled"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = app.do(t, http.MethodPatch, "/appointments/"+first.ID.String()+"/status", UpdateStatusRequest{Status: "lost"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		_, err := app.notes.Create(ctx, notification.Notification{UserID: app.desk.ID, Type: notification.TypeSuccess, Title: title, Message: "m"})
		require.NoError(t, err)
	}
	other, err := app.notes.Create(ctx, notification.Notification{UserID: app.doctor.ID, Type: notification.TypeWarning, Title: "other", Message: "m"})
	require.NoError(t, err)

	rec := app.do(t, http.MethodGet, "/notifications", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "caller id required")

	rec = app.do(t, http.MethodGet, "/notifications?user_id="+app.desk.ID.String(), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "query identity is for the websocket only")

	rec = app.do(t, http.MethodGet, "/notifications?limit=1", nil, &app.desk.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[NotificationListResponse](t, rec)
	assert.Len(t, list.Notifications, 1)
	assert.Equal(t, 2, list.UnreadCount)

	rec = app.do(t, http.MethodPost, "/notifications/"+other.ID.String()+"/read", nil, &app.desk.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code, "cannot touch another user's row")

	rec = app.do(t, http.MethodPost, "/notifications/read-all", nil, &app.desk.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ReadAllResponse](t, rec).Updated)

	unread, err := app.notes.UnreadCount(ctx, app.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread, "other users are untouched")

	rec = app.do(t, http.MethodDelete, "/notifications/"+other.ID.String(), nil, &app.doctor.ID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMessages(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/messages", SendMessageRequest{
		ToUserID: app.doctor.ID.String(),
		Subject:  "Lab results",
		Body:     "Ready for review",
	}, &app.desk.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[mailbox.Message](t, rec)

	rec = app.do(t, http.MethodGet, "/messages?box=inbox", nil, &app.doctor.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[MessageListResponse](t, rec)
	require.Len(t, inbox.Messages, 1)
	assert.Equal(t, 1, inbox.UnreadCount)

	rec = app.do(t, http.MethodGet, "/messages?box=sent", nil, &app.desk.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[MessageListResponse](t, rec).Messages, 1)

	rec = app.do(t, http.MethodGet, "/messages?box=trash", nil, &app.desk.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/messages/"+sent.ID.String()+"/read", nil, &app.doctor.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[mailbox.Message](t, rec).IsRead)

	rec = app.do(t, http.MethodDelete, "/messages/"+sent.ID.String(), nil, &app.doctor.ID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReminderJob(t *testing.T) {
	app := newTestApp(t)

	require.Equal(t, http.StatusCreated, app.book(t, app.doctor.ID, "2024-06-11", "14:00").Code)

	rec := app.do(t, http.MethodPost, "/jobs/reminders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReminderJobResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.RemindersSent)

	rec = app.do(t, http.MethodPost, "/jobs/reminders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ReminderJobResponse](t, rec).RemindersSent, "re-run sends nothing new")
}

func TestReminderJob_Failure(t *testing.T) {
	app := newTestApp(t, func(c *RouterConfig) {
		c.Reminders = runnerFunc(func(context.Context) (reminder.Result, error) {
			return reminder.Result{}, reminder.ErrRunAborted
		})
	})

	rec := app.do(t, http.MethodPost, "/jobs/reminders", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ReminderJobResponse](t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestRateLimit(t *testing.T) {
	app := newTestApp(t, func(c *RouterConfig) {
		c.RateRPS = 0.001
		c.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/appointments", nil, &app.desk.ID).Code)
	rec := app.do(t, http.MethodGet, "/appointments", nil, &app.desk.ID)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/appointments", nil, &app.doctor.ID).Code, "buckets are per caller")
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/health/live", nil, &app.desk.ID).Code, "health is not limited")
}

func TestWebSocket_ThroughMiddleware(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + app.desk.ID.String()
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := notification.Topic(app.desk.ID)
	require.Eventually(t, func() bool { return app.hub.TopicCount(topic) == 1 }, time.Second, 10*time.Millisecond)

	_, err = app.notes.Create(context.Background(), notification.Notification{UserID: app.desk.ID, Type: notification.TypeAppointment, Title: "t", Message: "m"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, notification.Table, ev.Table)
	assert.Equal(t, realtime.EventInsert, ev.Type)
}
