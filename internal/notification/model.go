package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointment Type = "appointment"
	TypeReminder    Type = "reminder"
	TypeMessage     Type = "message"
	TypeWarning     Type = "warning"
	TypeSuccess     Type = "success"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAppointment, TypeReminder, TypeMessage, TypeWarning, TypeSuccess:
		return true
	}
	return false
}

const Table = "notifications"

var (
	ErrNotFound   = errors.New("notification not found")
	ErrValidation = errors.New("invalid notification")
	// ErrAlreadyDelivered means the idempotency key was used by an earlier delivery.
	ErrAlreadyDelivered = errors.New("notification already delivered")
)

// Notification is also the row image carried by change events, so the JSON
// names are the wire vocabulary clients rely on.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      Type            `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}
