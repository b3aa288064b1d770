package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
)

type Directory struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]directory.User
	patients map[uuid.UUID]directory.Patient
	clock    clock.Clock
}

func NewDirectory(clk clock.Clock) *Directory {
	return &Directory{
		users:    make(map[uuid.UUID]directory.User),
		patients: make(map[uuid.UUID]directory.Patient),
		clock:    clk,
	}
}

func (d *Directory) AddUser(u directory.User) directory.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := d.clock.Now()
	u.CreatedAt, u.UpdatedAt = now, now

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return u
}

func (d *Directory) AddPatient(p directory.Patient) directory.Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := d.clock.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
	return p
}

func (d *Directory) hasUser(id uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return ok
}

func (d *Directory) hasPatient(id uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.patients[id]
	return ok
}

func (d *Directory) GetUser(_ context.Context, id uuid.UUID) (*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return &u, nil
}

func (d *Directory) GetPatient(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, directory.ErrPatientNotFound
	}
	return &p, nil
}

func (d *Directory) ListUsersByRole(_ context.Context, role directory.Role) ([]directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []directory.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b directory.User) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (d *Directory) PatientNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if p, ok := d.patients[id]; ok {
			out[id] = p.Name
		}
	}
	return out, nil
}
