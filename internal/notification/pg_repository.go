package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columns = `id, user_id, type, title, message, data, is_read, created_at`

var _ Repository = (*PgRepository)(nil)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanNotification(row pgx.Row, extra ...any) (*Notification, error) {
	var n Notification
	dest := append([]any{
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Data,
		&n.IsRead,
		&n.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func collect(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// queryRower is satisfied by both the pool and a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insert(ctx context.Context, q queryRower, n Notification) (*Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	row := q.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
		RETURNING `+columns,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Data)
	return scanNotification(row)
}

func (r *PgRepository) Insert(ctx context.Context, n Notification) (*Notification, error) {
	created, err := insert(ctx, r.pool, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

func (r *PgRepository) InsertOnce(ctx context.Context, key string, n Notification) (*Notification, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := insert(ctx, tx, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO reminder_watermarks (key, notification_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO NOTHING
	`, key, created.ID)
	if err != nil {
		return nil, fmt.Errorf("insert watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyDelivered
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collect(rows)
}

func (r *PgRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *PgRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, bool, error) {
	var wasRead bool
	row := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, is_read
			FROM notifications
			WHERE id = $1 AND user_id = $2
			FOR UPDATE
		)
		UPDATE notifications n
		SET is_read = true
		FROM prev
		WHERE n.id = prev.id
		RETURNING n.id, n.user_id, n.type, n.title, n.message, n.data, n.is_read, n.created_at, prev.is_read
	`, id, userID)

	n, err := scanNotification(row, &wasRead)
	if err != nil {
		return nil, false, err
	}
	return n, !wasRead, nil
}

func (r *PgRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE user_id = $1 AND is_read = false
		RETURNING `+columns,
		userID)
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	return collect(rows)
}

func (r *PgRepository) Delete(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM notifications
		WHERE id = $1 AND user_id = $2
		RETURNING `+columns,
		id, userID)
	return scanNotification(row)
}
