// Package memory provides an in-memory notification repository. It backs the
// service tests and interchanges with the Postgres store behind the same
// interface.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/service"
)

type NotificationStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{rows: make(map[uuid.UUID]*model.Notification)}
}

func (s *NotificationStore) Insert(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *NotificationStore) InsertMany(ctx context.Context, ns []*model.Notification) error {
	for _, n := range ns {
		if err := s.Insert(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationStore) FindAggregated(_ context.Context, userID uuid.UUID, ntype, ref string, since time.Time) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *model.Notification
	for _, n := range s.rows {
		if n.UserID != userID || n.Type != ntype || n.ReferenceID != ref {
			continue
		}
		if n.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || n.CreatedAt.After(newest.CreatedAt) {
			newest = n
		}
	}
	if newest == nil {
		return nil, service.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (s *NotificationStore) BumpAggregate(_ context.Context, id, actorID uuid.UUID, actorName, body string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	n.ActorsCount++
	n.LastActorID = &actorID
	n.LastActorName = actorName
	n.Body = body
	n.UpdatedAt = time.Now()
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) ListByUser(_ context.Context, userID uuid.UUID, since time.Time, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Notification
	for _, n := range s.rows {
		if n.UserID != userID || n.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return service.ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (s *NotificationStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return service.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// Count reports the stored row total, for test assertions.
func (s *NotificationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
