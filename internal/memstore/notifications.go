package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/notification"
)

type Notifications struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]notification.Notification
	watermarks map[string]uuid.UUID
	seq        int64
	clock      clock.Clock

	// FailInsert, when set, is returned by Insert and InsertOnce for matching rows.
	FailInsert func(n notification.Notification) error
}

func NewNotifications(clk clock.Clock) *Notifications {
	return &Notifications{
		rows:       make(map[uuid.UUID]notification.Notification),
		watermarks: make(map[string]uuid.UUID),
		clock:      clk,
	}
}

// insertLocked stamps created_at with a strictly increasing offset so rows
// written within the same clock tick still sort newest first.
func (s *Notifications) insertLocked(n notification.Notification) notification.Notification {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.seq++
	n.IsRead = false
	n.CreatedAt = s.clock.Now().Add(timeTick(s.seq))
	s.rows[n.ID] = n
	return n
}

func (s *Notifications) Insert(_ context.Context, n notification.Notification) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		if err := s.FailInsert(n); err != nil {
			return nil, err
		}
	}
	created := s.insertLocked(n)
	return &created, nil
}

func (s *Notifications) InsertOnce(_ context.Context, key string, n notification.Notification) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watermarks[key]; ok {
		return nil, notification.ErrAlreadyDelivered
	}
	if s.FailInsert != nil {
		if err := s.FailInsert(n); err != nil {
			return nil, err
		}
	}
	created := s.insertLocked(n)
	s.watermarks[key] = created.ID
	return &created, nil
}

func (s *Notifications) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notification.Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b notification.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Notifications) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.UserID == userID && !row.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Notifications) MarkRead(_ context.Context, userID, id uuid.UUID) (*notification.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return nil, false, notification.ErrNotFound
	}
	wasUnread := !n.IsRead
	n.IsRead = true
	s.rows[id] = n
	return &n, wasUnread, nil
}

func (s *Notifications) MarkAllRead(_ context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []notification.Notification
	for id, n := range s.rows {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		s.rows[id] = n
		changed = append(changed, n)
	}
	return changed, nil
}

func (s *Notifications) Delete(_ context.Context, userID, id uuid.UUID) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return nil, notification.ErrNotFound
	}
	delete(s.rows, id)
	return &n, nil
}

// All returns every stored notification regardless of owner.
func (s *Notifications) All() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, n)
	}
	return out
}
