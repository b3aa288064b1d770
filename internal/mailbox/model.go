// Package mailbox is the staff-to-staff message store. It shares the live
// delivery mechanism with notifications but keeps its own rows and topics, so
// messages never count toward notification unread totals.
package mailbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const Table = "messages"

var (
	ErrNotFound   = errors.New("message not found")
	ErrValidation = errors.New("invalid message")
)

type Message struct {
	ID         uuid.UUID  `json:"id"`
	FromUserID uuid.UUID  `json:"from_user_id"`
	ToUserID   uuid.UUID  `json:"to_user_id"`
	PatientID  *uuid.UUID `json:"patient_id,omitempty"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Box string

const (
	BoxInbox Box = "inbox"
	BoxSent  Box = "sent"
)
