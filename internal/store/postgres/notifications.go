package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/service"
)

// NotificationStore implements service.NotificationRepo on Postgres.
type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationColumns = `id, user_id, title, body,
	COALESCE(notification_type, ''), COALESCE(reference_id, ''),
	actors_count, last_actor_id, COALESCE(last_actor_name, ''),
	is_read, link_url, created_at, updated_at`

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type, &n.ReferenceID,
		&n.ActorsCount, &n.LastActorID, &n.LastActorName, &n.IsRead, &n.LinkURL,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NotificationStore) Insert(ctx context.Context, n *model.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, user_id, title, body, notification_type, reference_id,
			 actors_count, last_actor_id, last_actor_name, is_read, link_url,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4, NULLIF($5,''), NULLIF($6,''), $7, $8, NULLIF($9,''), $10, $11, $12, $13)`,
		n.ID, n.UserID, n.Title, n.Body, n.Type, n.ReferenceID,
		n.ActorsCount, n.LastActorID, n.LastActorName, n.IsRead, n.LinkURL,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("notifications: insert: %w", err)
	}
	return nil
}

// InsertMany persists a fan-out batch in one round trip.
func (s *NotificationStore) InsertMany(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range ns {
		batch.Queue(`
			INSERT INTO notifications
				(id, user_id, title, body, notification_type, reference_id,
				 actors_count, last_actor_id, last_actor_name, is_read, link_url,
				 created_at, updated_at)
			VALUES ($1,$2,$3,$4, NULLIF($5,''), NULLIF($6,''), $7, $8, NULLIF($9,''), $10, $11, $12, $13)`,
			n.ID, n.UserID, n.Title, n.Body, n.Type, n.ReferenceID,
			n.ActorsCount, n.LastActorID, n.LastActorName, n.IsRead, n.LinkURL,
			n.CreatedAt, n.UpdatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ns {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("notifications: insert many: %w", err)
		}
	}
	return nil
}

// FindAggregated returns the newest notification matching the aggregation
// triple created after since, or service.ErrNotFound.
func (s *NotificationStore) FindAggregated(ctx context.Context, userID uuid.UUID, ntype, ref string, since time.Time) (*model.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND notification_type = $2 AND reference_id = $3
		  AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, ntype, ref, since)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifications: find aggregated: %w", err)
	}
	return n, nil
}

// BumpAggregate applies one more actor to an aggregated row and returns the
// updated notification.
func (s *NotificationStore) BumpAggregate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, actorName, body string) (*model.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET actors_count = actors_count + 1,
		    last_actor_id = $2,
		    last_actor_name = $3,
		    body = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+notificationColumns,
		id, actorID, actorName, body)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifications: bump aggregate: %w", err)
	}
	return n, nil
}

// ListByUser filters on updated_at so aggregate bumps to older rows still
// surface in a since query.
func (s *NotificationStore) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND updated_at > $2
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notifications: scan: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkRead flips is_read to true. The transition is monotone: rows never go
// back to unread.
func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notifications: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notifications: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}
