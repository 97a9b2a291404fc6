package outbox

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/metrics"
	"github.com/pulsesocial/pulse/internal/store/postgres"
)

var Module = fx.Module("outbox",
	fx.Provide(func(repo *postgres.OutboxStore, dispatcher pubsub.EventDispatcher, logger *slog.Logger, m *metrics.Metrics, cfg *config.Config) *Worker {
		return NewWorker(repo, dispatcher, logger, m, cfg.Outbox)
	}),

	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					w.Run(runCtx)
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}),
)
