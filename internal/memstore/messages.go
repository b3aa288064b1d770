package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
)

type messageRow struct {
	mailbox.Message
	senderDeleted    bool
	recipientDeleted bool
}

type Messages struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*messageRow
	seq   int64
	dir   *Directory
	clock clock.Clock
}

func NewMessages(dir *Directory, clk clock.Clock) *Messages {
	return &Messages{
		rows:  make(map[uuid.UUID]*messageRow),
		dir:   dir,
		clock: clk,
	}
}

func timeTick(seq int64) time.Duration {
	return time.Duration(seq) * time.Microsecond
}

func (s *Messages) Insert(_ context.Context, m mailbox.Message) (*mailbox.Message, error) {
	if s.dir != nil {
		if !s.dir.hasUser(m.FromUserID) || !s.dir.hasUser(m.ToUserID) {
			return nil, fmt.Errorf("%w: unknown sender, recipient or patient", mailbox.ErrValidation)
		}
		if m.PatientID != nil && !s.dir.hasPatient(*m.PatientID) {
			return nil, fmt.Errorf("%w: unknown sender, recipient or patient", mailbox.ErrValidation)
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.IsRead = false
	m.CreatedAt = s.clock.Now().Add(timeTick(s.seq))
	s.rows[m.ID] = &messageRow{Message: m}
	return &m, nil
}

func (s *Messages) list(match func(*messageRow) bool, limit int) []mailbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mailbox.Message
	for _, row := range s.rows {
		if match(row) {
			out = append(out, row.Message)
		}
	}
	slices.SortFunc(out, func(a, b mailbox.Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Messages) Inbox(_ context.Context, userID uuid.UUID, limit int) ([]mailbox.Message, error) {
	return s.list(func(m *messageRow) bool { return m.ToUserID == userID && !m.recipientDeleted }, limit), nil
}

func (s *Messages) Sent(_ context.Context, userID uuid.UUID, limit int) ([]mailbox.Message, error) {
	return s.list(func(m *messageRow) bool { return m.FromUserID == userID && !m.senderDeleted }, limit), nil
}

func (s *Messages) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	return len(s.list(func(m *messageRow) bool {
		return m.ToUserID == userID && !m.IsRead && !m.recipientDeleted
	}, 0)), nil
}

func (s *Messages) MarkRead(_ context.Context, userID, id uuid.UUID) (*mailbox.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.ToUserID != userID || row.recipientDeleted {
		return nil, false, mailbox.ErrNotFound
	}
	wasUnread := !row.IsRead
	row.IsRead = true
	m := row.Message
	return &m, wasUnread, nil
}

func (s *Messages) Delete(_ context.Context, userID, id uuid.UUID) (*mailbox.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, false, mailbox.ErrNotFound
	}
	asSender := row.FromUserID == userID && !row.senderDeleted
	asRecipient := row.ToUserID == userID && !row.recipientDeleted
	if !asSender && !asRecipient {
		return nil, false, mailbox.ErrNotFound
	}

	row.senderDeleted = row.senderDeleted || asSender
	row.recipientDeleted = row.recipientDeleted || asRecipient
	if row.senderDeleted && row.recipientDeleted {
		delete(s.rows, id)
	}
	m := row.Message
	return &m, asRecipient, nil
}
