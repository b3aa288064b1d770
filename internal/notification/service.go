package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service persists notifications and publishes a change event for every
// committed write. Publishing is best effort: a failed publish is logged and
// the write still stands.
type Service struct {
	repo     Repository
	feed     realtime.Feed
	clock    clock.Clock
	pageSize int
	log      zerolog.Logger
}

func NewService(repo Repository, feed realtime.Feed, clk clock.Clock, pageSize int, log zerolog.Logger) *Service {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return &Service{
		repo:     repo,
		feed:     feed,
		clock:    clk,
		pageSize: pageSize,
		log:      log.With().Str("component", "notifications").Logger(),
	}
}

func Topic(userID uuid.UUID) string {
	return realtime.Topic(Table, "user_id", userID)
}

func (s *Service) publish(ctx context.Context, userID uuid.UUID, typ realtime.EventType, newRow, oldRow *Notification) {
	// avoid typed nil pointers inside the interface values
	var newImg, oldImg any
	if newRow != nil {
		newImg = newRow
	}
	if oldRow != nil {
		oldImg = oldRow
	}
	ev, err := realtime.NewChangeEvent(Table, typ, newImg, oldImg, s.clock.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("build change event")
		return
	}
	if err := s.feed.Publish(ctx, Topic(userID), ev); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Str("event", string(typ)).Msg("publish change event")
	}
}

func validate(n Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, n.Type)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}

// List returns the user's newest notifications. limit <= 0 uses the configured page size.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	out, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) Create(ctx context.Context, n Notification) (*Notification, error) {
	if err := validate(n); err != nil {
		return nil, err
	}
	created, err := s.repo.Insert(ctx, n)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, created.UserID, realtime.EventInsert, created, nil)
	return created, nil
}

// DeliverOnce creates n unless key was already used. The bool reports whether
// a new notification was written.
func (s *Service) DeliverOnce(ctx context.Context, key string, n Notification) (bool, error) {
	if err := validate(n); err != nil {
		return false, err
	}
	created, err := s.repo.InsertOnce(ctx, key, n)
	if errors.Is(err, ErrAlreadyDelivered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.publish(ctx, created.UserID, realtime.EventInsert, created, nil)
	return true, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, wasUnread, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if wasUnread {
		old := *n
		old.IsRead = false
		s.publish(ctx, userID, realtime.EventUpdate, n, &old)
	}
	return n, nil
}

// MarkAllRead flips every unread row owned by userID and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	changed, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	for i := range changed {
		old := changed[i]
		old.IsRead = false
		s.publish(ctx, userID, realtime.EventUpdate, &changed[i], &old)
	}
	return len(changed), nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	removed, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	s.publish(ctx, userID, realtime.EventDelete, nil, removed)
	return nil
}

// Subscribe streams change events for userID's notifications until the
// subscription is closed.
func (s *Service) Subscribe(userID uuid.UUID) *realtime.Subscription {
	return s.feed.Subscribe(Topic(userID))
}
