package mailbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
)

type env struct {
	mail    *mailbox.Service
	notes   *notification.Service
	store   *memstore.Store
	alice   directory.User
	bob     directory.User
	patient directory.Patient
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	hub := realtime.NewHub(16)
	notes := notification.NewService(store.Notifications, hub, clk, 20, zerolog.Nop())

	return &env{
		mail:    mailbox.NewService(store.Messages, hub, notes, store.Directory, clk, zerolog.Nop()),
		notes:   notes,
		store:   store,
		alice:   store.Directory.AddUser(directory.User{Name: "Alice", Role: directory.RoleDoctor}),
		bob:     store.Directory.AddUser(directory.User{Name: "Bob", Role: directory.RoleReceptionist}),
		patient: store.Directory.AddPatient(directory.Patient{Name: "Pat"}),
	}
}

func TestSend_DeliversAndNotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inboxSub := e.mail.Subscribe(e.bob.ID)
	defer inboxSub.Close()
	noteSub := e.notes.Subscribe(e.bob.ID)
	defer noteSub.Close()

	m, err := e.mail.Send(ctx, mailbox.SendRequest{
		FromUserID: e.alice.ID,
		ToUserID:   e.bob.ID,
		PatientID:  &e.patient.ID,
		Subject:    "X-ray results",
		Body:       "Please call the patient.",
	})
	require.NoError(t, err)
	assert.False(t, m.IsRead)

	ev := <-inboxSub.C
	assert.Equal(t, mailbox.Table, ev.Table)
	assert.Equal(t, realtime.EventInsert, ev.Type)

	nev := <-noteSub.C
	assert.Equal(t, notification.Table, nev.Table)

	notes, err := e.notes.List(ctx, e.bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, notification.TypeMessage, notes[0].Type)
	assert.Equal(t, "New message from Alice", notes[0].Title)
	assert.Equal(t, "X-ray results", notes[0].Message)

	inbox, err := e.mail.Inbox(ctx, e.bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	sent, err := e.mail.Sent(ctx, e.alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, m.ID, sent[0].ID)

	// messages and notifications keep separate unread counts
	msgUnread, err := e.mail.UnreadCount(ctx, e.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, msgUnread)
}

func TestSend_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.mail.Send(ctx, mailbox.SendRequest{FromUserID: e.alice.ID, ToUserID: e.bob.ID, Body: "no subject"})
	assert.ErrorIs(t, err, mailbox.ErrValidation)

	_, err = e.mail.Send(ctx, mailbox.SendRequest{FromUserID: e.alice.ID, ToUserID: uuid.New(), Subject: "s", Body: "b"})
	assert.ErrorIs(t, err, mailbox.ErrValidation)

	_, err = e.mail.List(ctx, e.alice.ID, "trash", 0)
	assert.ErrorIs(t, err, mailbox.ErrValidation)
}

func TestMarkReadAndDelete_Ownership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.mail.Send(ctx, mailbox.SendRequest{FromUserID: e.alice.ID, ToUserID: e.bob.ID, Subject: "s", Body: "b"})
	require.NoError(t, err)

	_, err = e.mail.MarkRead(ctx, e.alice.ID, m.ID)
	assert.ErrorIs(t, err, mailbox.ErrNotFound, "only the recipient marks read")

	read, err := e.mail.MarkRead(ctx, e.bob.ID, m.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	stranger := e.store.Directory.AddUser(directory.User{Name: "Eve", Role: directory.RoleAdmin})
	assert.ErrorIs(t, e.mail.Delete(ctx, stranger.ID, m.ID), mailbox.ErrNotFound)
}

func TestDelete_EachSideIndependently(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.mail.Send(ctx, mailbox.SendRequest{FromUserID: e.alice.ID, ToUserID: e.bob.ID, Subject: "s", Body: "b"})
	require.NoError(t, err)

	sub := e.mail.Subscribe(e.bob.ID)
	defer sub.Close()

	require.NoError(t, e.mail.Delete(ctx, e.alice.ID, m.ID), "sender clears the sent box")
	assert.Zero(t, len(sub.C), "recipient's inbox did not change")

	sent, err := e.mail.Sent(ctx, e.alice.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, sent)

	inbox, err := e.mail.Inbox(ctx, e.bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	unread, err := e.mail.UnreadCount(ctx, e.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	assert.ErrorIs(t, e.mail.Delete(ctx, e.alice.ID, m.ID), mailbox.ErrNotFound, "already gone from sender's side")

	require.NoError(t, e.mail.Delete(ctx, e.bob.ID, m.ID))
	ev := <-sub.C
	assert.Equal(t, realtime.EventDelete, ev.Type)

	inbox, err = e.mail.Inbox(ctx, e.bob.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, inbox)
	assert.ErrorIs(t, e.mail.Delete(ctx, e.bob.ID, m.ID), mailbox.ErrNotFound)
}

func TestSend_NotificationFailureDoesNotFailSend(t *testing.T) {
	e := newEnv(t)
	e.store.Notifications.FailInsert = func(notification.Notification) error {
		return assert.AnError
	}

	m, err := e.mail.Send(context.Background(), mailbox.SendRequest{FromUserID: e.alice.ID, ToUserID: e.bob.ID, Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, m.ID)
}
