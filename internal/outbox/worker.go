// Package outbox dispatches transactionally recorded events to the bus. The
// worker polls pending rows and publishes them; a failed publish leaves the
// row pending for the next poll, so delivery is at-least-once and the
// consumer's dedup absorbs the repeats.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
)

// Repo is the slice of outbox persistence the worker needs.
type Repo interface {
	FetchPending(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

type Worker struct {
	repo       Repo
	dispatcher pubsub.EventDispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        config.OutboxConfig
}

func NewWorker(repo Repo, dispatcher pubsub.EventDispatcher, logger *slog.Logger, m *metrics.Metrics, cfg config.OutboxConfig) *Worker {
	return &Worker{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		cfg:        cfg,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("OUTBOX_WORKER_STARTED", "poll_interval", w.cfg.PollInterval, "batch_size", w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("OUTBOX_WORKER_STOPPED")
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce publishes one batch. Entries that fail to publish stay pending;
// the ones that made it to the broker are flipped in a single update.
func (w *Worker) drainOnce(ctx context.Context) {
	entries, err := w.repo.FetchPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("OUTBOX_FETCH_FAILED", "err", err)
		return
	}
	w.metrics.OutboxPending.Set(float64(len(entries)))
	if len(entries) == 0 {
		return
	}

	published := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if err := w.dispatcher.PublishRaw(ctx, e.RoutingKey, e.Payload); err != nil {
			w.logger.Warn("OUTBOX_PUBLISH_FAILED", "err", err, "entry_id", e.ID, "routing_key", e.RoutingKey)
			continue
		}
		published = append(published, e.ID)
	}

	if err := w.repo.MarkPublished(ctx, published); err != nil {
		// The rows republish on the next poll; consumer dedup drops them.
		w.logger.Error("OUTBOX_MARK_FAILED", "err", err, "count", len(published))
	}
}
