package realtime

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/internal/domain/registry"
	"github.com/pulsesocial/pulse/internal/service"
)

var Module = fx.Module("realtime",
	fx.Provide(
		NewRouter,
		func(r *Router) service.RealtimePublisher { return r },
		NewSubscriber,
	),
	fx.Invoke(func(lc fx.Lifecycle, sub *Subscriber, manager *registry.ConnectionManager, logger *slog.Logger) {
		subCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					if err := sub.Run(subCtx); err != nil && subCtx.Err() == nil {
						logger.Error("REALTIME_SUBSCRIBER_EXITED", "err", err)
					}
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
