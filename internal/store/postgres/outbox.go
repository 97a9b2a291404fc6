package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsesocial/pulse/internal/domain/model"
)

// OutboxStore persists pending events next to the aggregates that produced
// them. AppendTx runs inside the caller's transaction so the event and the
// mutation commit or roll back together.
type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

func (s *OutboxStore) AppendTx(ctx context.Context, tx pgx.Tx, entry *model.OutboxEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_id, routing_key, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.AggregateID, entry.RoutingKey, entry.Payload, entry.Status, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: append: %w", err)
	}
	return nil
}

// FetchPending returns the oldest pending entries. Concurrent workers may
// dispatch the same row twice; consumer-side dedup absorbs the duplicate.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, routing_key, payload, status, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.RoutingKey, &e.Payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished flips dispatched rows after broker acknowledgement.
func (s *OutboxStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = 'published' WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}
