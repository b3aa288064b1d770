package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// User is a staff profile. Profiles are managed elsewhere; this package only reads them.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory resolves people referenced by appointments, treatments and notifications.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListUsersByRole(ctx context.Context, role Role) ([]User, error)
	PatientNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}
