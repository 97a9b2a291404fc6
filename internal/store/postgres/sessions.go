package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/service"
)

// SessionStore owns the RTMP session rows. State transitions are expressed
// as conditional UPDATEs so two racing webhooks cannot both win; the matching
// outbox entry is written in the same transaction.
type SessionStore struct {
	pool   *pgxpool.Pool
	outbox *OutboxStore
}

func NewSessionStore(pool *pgxpool.Pool, outbox *OutboxStore) *SessionStore {
	return &SessionStore{pool: pool, outbox: outbox}
}

func (s *SessionStore) FindByID(ctx context.Context, id int64) (*model.StreamSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, stream_key, status, started_at, ended_at, viewer_count
		FROM stream_sessions WHERE id = $1`, id)

	var sess model.StreamSession
	err := row.Scan(&sess.ID, &sess.UserID, &sess.StreamKey, &sess.Status,
		&sess.StartedAt, &sess.EndedAt, &sess.ViewerCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: find: %w", err)
	}
	return &sess, nil
}

// TransitionToLive moves an IDLE session with a matching key to LIVE and
// records a stream.live outbox entry. Returns false when the session is in
// any other state or the key does not match; on success the owner's user id
// is returned alongside.
func (s *SessionStore) TransitionToLive(ctx context.Context, id int64, streamKey string) (uuid.UUID, bool, error) {
	return s.transition(ctx, id, "stream.live", `
		UPDATE stream_sessions
		SET status = 'LIVE', started_at = now()
		WHERE id = $1 AND stream_key = $2 AND status = 'IDLE'
		RETURNING user_id`,
		id, streamKey)
}

// TransitionToEnded moves a LIVE session to ENDED and resets the viewer
// count. Returns false when the session was not LIVE.
func (s *SessionStore) TransitionToEnded(ctx context.Context, id int64) (uuid.UUID, bool, error) {
	return s.transition(ctx, id, "stream.ended", `
		UPDATE stream_sessions
		SET status = 'ENDED', ended_at = now(), viewer_count = 0
		WHERE id = $1 AND status = 'LIVE'
		RETURNING user_id`,
		id)
}

func (s *SessionStore) transition(ctx context.Context, id int64, routingKey, query string, args ...any) (uuid.UUID, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("sessions: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx, query, args...).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("sessions: transition: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"stream_id": strconv.FormatInt(id, 10),
		"user_id":   userID,
	})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("sessions: marshal outbox payload: %w", err)
	}

	entry := &model.OutboxEntry{
		ID:          uuid.New(),
		AggregateID: strconv.FormatInt(id, 10),
		RoutingKey:  routingKey,
		Payload:     payload,
		Status:      model.OutboxPending,
		CreatedAt:   time.Now(),
	}
	if err := s.outbox.AppendTx(ctx, tx, entry); err != nil {
		return uuid.Nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("sessions: commit: %w", err)
	}
	return userID, true, nil
}
