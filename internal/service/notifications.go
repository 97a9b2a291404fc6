package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
)

// NotificationRepo is the persistence capability set the notifier needs.
// Backed by Postgres in production and by an in-memory store in tests.
type NotificationRepo interface {
	Insert(ctx context.Context, n *model.Notification) error
	InsertMany(ctx context.Context, ns []*model.Notification) error
	FindAggregated(ctx context.Context, userID uuid.UUID, ntype, ref string, since time.Time) (*model.Notification, error)
	BumpAggregate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, actorName, body string) (*model.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RealtimePublisher pushes frames toward whichever gateway instance holds
// the target user. Implemented by the cross-instance router.
type RealtimePublisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, frame model.PushFrame) error
}

// Notifier turns domain events into durable notifications plus best-effort
// realtime pushes. The persisted write is authoritative: a failed push is
// logged and forgotten, never propagated.
type Notifier struct {
	repo     NotificationRepo
	realtime RealtimePublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	aggregateWindow time.Duration
	now             func() time.Time
}

func NewNotifier(repo NotificationRepo, realtime RealtimePublisher, logger *slog.Logger, m *metrics.Metrics, aggregateWindow time.Duration) *Notifier {
	return &Notifier{
		repo:            repo,
		realtime:        realtime,
		logger:          logger,
		metrics:         m,
		aggregateWindow: aggregateWindow,
		now:             time.Now,
	}
}

// Create persists a single non-aggregatable notification and pushes it.
func (s *Notifier) Create(ctx context.Context, userID uuid.UUID, eventType, title, body, link string) (*model.Notification, error) {
	n := s.newNotification(userID, title, body, link)
	if err := s.repo.Insert(ctx, n); err != nil {
		return nil, err
	}
	s.metrics.NotificationsCreated.Inc()
	s.push(ctx, eventType, n)
	return n, nil
}

// CreateMany fans one notification out to a set of recipients. The realtime
// pushes are best effort and must not roll back the persisted batch.
func (s *Notifier) CreateMany(ctx context.Context, userIDs []uuid.UUID, eventType, title, body, link string) error {
	if len(userIDs) == 0 {
		return nil
	}
	ns := make([]*model.Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		ns = append(ns, s.newNotification(uid, title, body, link))
	}
	if err := s.repo.InsertMany(ctx, ns); err != nil {
		return err
	}
	s.metrics.NotificationsCreated.Add(float64(len(ns)))
	for _, n := range ns {
		s.push(ctx, eventType, n)
	}
	return nil
}

// AggregateParams describes one aggregatable event occurrence.
type AggregateParams struct {
	UserID      uuid.UUID
	Type        string // e.g. post_liked
	ReferenceID string // e.g. the post id
	EventType   string // routing key echoed in the push frame
	Title       string
	// Action is the verb phrase shared by the singular and plural bodies,
	// e.g. "liked your post".
	Action    string
	Link      string
	ActorID   uuid.UUID
	ActorName string
}

// CreateAggregated collapses repeated events on the same (user, type, ref)
// triple within the aggregation window into one row. The plural body is
// rewritten with the count prior to this event, so the first duplicate reads
// "A and 1 others ...".
func (s *Notifier) CreateAggregated(ctx context.Context, p AggregateParams) (*model.Notification, error) {
	since := s.now().Add(-s.aggregateWindow)

	existing, err := s.repo.FindAggregated(ctx, p.UserID, p.Type, p.ReferenceID, since)
	switch {
	case err == nil:
		body := fmt.Sprintf("%s and %d others %s", p.ActorName, existing.ActorsCount, p.Action)
		bumped, bumpErr := s.repo.BumpAggregate(ctx, existing.ID, p.ActorID, p.ActorName, body)
		if bumpErr == nil {
			s.push(ctx, p.EventType, bumped)
			return bumped, nil
		}
		// Aggregation is an optimization; on commit failure fall through to a
		// fresh insert rather than losing the notification.
		s.logger.Warn("AGGREGATE_BUMP_FAILED", "err", bumpErr, "user_id", p.UserID, "ref", p.ReferenceID)

	case errors.Is(err, ErrNotFound):
		// First event in the window.

	default:
		return nil, err
	}

	n := s.newNotification(p.UserID, p.Title, fmt.Sprintf("%s %s", p.ActorName, p.Action), p.Link)
	n.Type = p.Type
	n.ReferenceID = p.ReferenceID
	actorID := p.ActorID
	n.LastActorID = &actorID
	n.LastActorName = p.ActorName
	if err := s.repo.Insert(ctx, n); err != nil {
		return nil, err
	}
	s.metrics.NotificationsCreated.Inc()
	s.push(ctx, p.EventType, n)
	return n, nil
}

// ListSince supports the client reconciliation query after reconnect.
func (s *Notifier) ListSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]model.Notification, error) {
	return s.repo.ListByUser(ctx, userID, since, limit)
}

func (s *Notifier) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, id)
}

func (s *Notifier) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Notifier) newNotification(userID uuid.UUID, title, body, link string) *model.Notification {
	now := s.now()
	return &model.Notification{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Body:        body,
		ActorsCount: 1,
		LinkURL:     link,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// push is the post-commit side effect. Failures are logged, not propagated.
func (s *Notifier) push(ctx context.Context, eventType string, n *model.Notification) {
	frame := model.PushFrame{
		EventType: eventType,
		UserIDs:   []uuid.UUID{n.UserID},
		Payload: model.PushPayload{
			Title:     n.Title,
			Body:      n.Body,
			Link:      n.LinkURL,
			CreatedAt: n.UpdatedAt,
		},
	}
	if err := s.realtime.PublishToUser(ctx, n.UserID, frame); err != nil {
		s.logger.Warn("REALTIME_PUSH_FAILED", "err", err, "user_id", n.UserID, "event_type", eventType)
	}
}
