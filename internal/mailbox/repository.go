package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Insert(ctx context.Context, m Message) (*Message, error)
	Inbox(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error)
	Sent(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)

	// MarkRead only matches messages addressed to userID. The bool reports
	// whether the message was unread before.
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*Message, bool, error)

	// Delete hides the message from userID's side of the conversation.
	// The bool reports whether it left the recipient's inbox.
	Delete(ctx context.Context, userID, id uuid.UUID) (*Message, bool, error)
}

const columns = `id, from_user_id, to_user_id, patient_id, subject, body, is_read, created_at`

var _ Repository = (*PgRepository)(nil)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanMessage(row pgx.Row, extra ...any) (*Message, error) {
	var m Message
	dest := append([]any{
		&m.ID, &m.FromUserID, &m.ToUserID, &m.PatientID,
		&m.Subject, &m.Body, &m.IsRead, &m.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PgRepository) list(ctx context.Context, column, hidden string, userID uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+`
		FROM messages
		WHERE `+column+` = $1 AND NOT `+hidden+`
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PgRepository) Insert(ctx context.Context, m Message) (*Message, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, from_user_id, to_user_id, patient_id, subject, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
		RETURNING `+columns,
		m.ID, m.FromUserID, m.ToUserID, m.PatientID, m.Subject, m.Body)

	created, err := scanMessage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: unknown sender, recipient or patient", ErrValidation)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Inbox(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error) {
	return r.list(ctx, "to_user_id", "recipient_deleted", userID, limit)
}

func (r *PgRepository) Sent(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error) {
	return r.list(ctx, "from_user_id", "sender_deleted", userID, limit)
}

func (r *PgRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE to_user_id = $1 AND is_read = false AND NOT recipient_deleted
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

func (r *PgRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Message, bool, error) {
	var wasRead bool
	row := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, is_read
			FROM messages
			WHERE id = $1 AND to_user_id = $2 AND NOT recipient_deleted
			FOR UPDATE
		)
		UPDATE messages m
		SET is_read = true
		FROM prev
		WHERE m.id = prev.id
		RETURNING m.id, m.from_user_id, m.to_user_id, m.patient_id, m.subject, m.body, m.is_read, m.created_at, prev.is_read
	`, id, userID)

	m, err := scanMessage(row, &wasRead)
	if err != nil {
		return nil, false, err
	}
	return m, !wasRead, nil
}

func (r *PgRepository) Delete(ctx context.Context, userID, id uuid.UUID) (*Message, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var senderDeleted, recipientDeleted bool
	row := tx.QueryRow(ctx, `
		SELECT `+columns+`, sender_deleted, recipient_deleted
		FROM messages
		WHERE id = $1
		FOR UPDATE
	`, id)
	m, err := scanMessage(row, &senderDeleted, &recipientDeleted)
	if err != nil {
		return nil, false, err
	}

	asSender := m.FromUserID == userID && !senderDeleted
	asRecipient := m.ToUserID == userID && !recipientDeleted
	if !asSender && !asRecipient {
		return nil, false, ErrNotFound
	}
	senderDeleted = senderDeleted || asSender
	recipientDeleted = recipientDeleted || asRecipient

	if senderDeleted && recipientDeleted {
		_, err = tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE messages SET sender_deleted = $2, recipient_deleted = $3 WHERE id = $1
		`, id, senderDeleted, recipientDeleted)
	}
	if err != nil {
		return nil, false, fmt.Errorf("delete message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return m, asRecipient, nil
}
