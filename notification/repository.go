package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("notification: not found")
	ErrForbidden = errors.New("notification: forbidden")
)

type Repository interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	Get(ctx context.Context, id string) (Notification, error)
	List(ctx context.Context, filter Filter) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, user_id, type, title, message, link, read, created_at`

func (r *PGRepository) Create(ctx context.Context, n Notification) (Notification, error) {
	const query = `
		INSERT INTO notifications (id, user_id, type, title, message, link)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING ` + columns

	created, err := scanNotification(r.pool.QueryRow(ctx, query, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link))
	if err != nil {
		return Notification{}, fmt.Errorf("notification: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Notification{}, ErrNotFound
	}
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	return n, nil
}

func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + columns + ` FROM notifications WHERE user_id=$1`
	if filter.UnreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *PGRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read = false`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notification: count unread: %w", err)
	}
	return count, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE user_id=$1 AND read = false`, userID)
	if err != nil {
		return 0, fmt.Errorf("notification: mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt)
	return n, err
}
