package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
)

const defaultLimit = 50

// Notifier is the part of the notification service the mailbox needs.
type Notifier interface {
	Create(ctx context.Context, n notification.Notification) (*notification.Notification, error)
}

type SendRequest struct {
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	PatientID  *uuid.UUID
	Subject    string
	Body       string
}

type Service struct {
	repo     Repository
	feed     realtime.Feed
	notifier Notifier
	people   directory.Directory
	clock    clock.Clock
	log      zerolog.Logger
}

func NewService(repo Repository, feed realtime.Feed, notifier Notifier, people directory.Directory, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		feed:     feed,
		notifier: notifier,
		people:   people,
		clock:    clk,
		log:      log.With().Str("component", "mailbox").Logger(),
	}
}

// Topic is keyed on the recipient. Senders do not get live updates for their sent box.
func Topic(toUserID uuid.UUID) string {
	return realtime.Topic(Table, "to_user_id", toUserID)
}

func (s *Service) publish(ctx context.Context, typ realtime.EventType, newRow, oldRow *Message) {
	var newImg, oldImg any
	recipient := uuid.Nil
	if newRow != nil {
		newImg = newRow
		recipient = newRow.ToUserID
	}
	if oldRow != nil {
		oldImg = oldRow
		recipient = oldRow.ToUserID
	}
	ev, err := realtime.NewChangeEvent(Table, typ, newImg, oldImg, s.clock.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("build change event")
		return
	}
	if err := s.feed.Publish(ctx, Topic(recipient), ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(typ)).Msg("publish change event")
	}
}

func (r SendRequest) validate() error {
	if r.FromUserID == uuid.Nil || r.ToUserID == uuid.Nil {
		return fmt.Errorf("%w: sender and recipient are required", ErrValidation)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	return nil
}

func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	m, err := s.repo.Insert(ctx, Message{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		PatientID:  req.PatientID,
		Subject:    strings.TrimSpace(req.Subject),
		Body:       req.Body,
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.publish(ctx, realtime.EventInsert, m, nil)
	s.notifyRecipient(ctx, m)

	return m, nil
}

// notifyRecipient drops a "message" notification in the recipient's feed.
// The message is already stored, so failures here are only logged.
func (s *Service) notifyRecipient(ctx context.Context, m *Message) {
	from := "a colleague"
	if u, err := s.people.GetUser(ctx, m.FromUserID); err == nil {
		from = u.Name
	}

	data, _ := json.Marshal(map[string]string{"message_id": m.ID.String()})
	_, err := s.notifier.Create(ctx, notification.Notification{
		UserID:  m.ToUserID,
		Type:    notification.TypeMessage,
		Title:   "New message from " + from,
		Message: m.Subject,
		Data:    data,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", m.ID.String()).Msg("notify recipient")
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > notification.MaxPageSize {
		return defaultLimit
	}
	return limit
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, box Box, limit int) ([]Message, error) {
	switch box {
	case BoxInbox, "":
		return s.repo.Inbox(ctx, userID, clampLimit(limit))
	case BoxSent:
		return s.repo.Sent(ctx, userID, clampLimit(limit))
	}
	return nil, fmt.Errorf("%w: unknown box %q", ErrValidation, box)
}

func (s *Service) Inbox(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error) {
	return s.List(ctx, userID, BoxInbox, limit)
}

func (s *Service) Sent(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error) {
	return s.List(ctx, userID, BoxSent, limit)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead is only allowed for the recipient.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Message, error) {
	m, wasUnread, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if wasUnread {
		old := *m
		old.IsRead = false
		s.publish(ctx, realtime.EventUpdate, m, &old)
	}
	return m, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	removed, fromInbox, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	// the live topic follows the recipient's inbox only
	if fromInbox {
		s.publish(ctx, realtime.EventDelete, nil, removed)
	}
	return nil
}

// Subscribe streams change events for messages addressed to userID.
func (s *Service) Subscribe(userID uuid.UUID) *realtime.Subscription {
	return s.feed.Subscribe(Topic(userID))
}
