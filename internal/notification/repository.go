package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository scopes every per-row operation by owner: a row owned by another
// user behaves as if it did not exist.
type Repository interface {
	Insert(ctx context.Context, n Notification) (*Notification, error)

	// InsertOnce stores n together with a watermark for key in one transaction.
	// If key is already present nothing is written and ErrAlreadyDelivered is returned.
	InsertOnce(ctx context.Context, key string, n Notification) (*Notification, error)

	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)

	// MarkRead returns the updated row and whether it was unread before.
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, bool, error)

	// MarkAllRead returns only the rows it changed.
	MarkAllRead(ctx context.Context, userID uuid.UUID) ([]Notification, error)

	// Delete returns the removed row.
	Delete(ctx context.Context, userID, id uuid.UUID) (*Notification, error)
}
