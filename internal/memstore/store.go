// Package memstore is a process-local implementation of every repository.
// Each repository guards its rows with a mutex, so the uniqueness rules the
// Postgres schema enforces with constraints hold here under concurrency too.
// It backs service tests and STORE_DRIVER=memory.
package memstore

import (
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

var (
	_ appointment.Repository  = (*Appointments)(nil)
	_ directory.Directory     = (*Directory)(nil)
	_ treatment.Log           = (*Treatments)(nil)
	_ notification.Repository = (*Notifications)(nil)
	_ mailbox.Repository      = (*Messages)(nil)
)

type Store struct {
	Directory     *Directory
	Appointments  *Appointments
	Treatments    *Treatments
	Notifications *Notifications
	Messages      *Messages
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	dir := NewDirectory(clk)
	return &Store{
		Directory:     dir,
		Appointments:  NewAppointments(dir, clk),
		Treatments:    NewTreatments(clk),
		Notifications: NewNotifications(clk),
		Messages:      NewMessages(dir, clk),
	}
}
