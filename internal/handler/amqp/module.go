package amqp

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewConsumer,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, c *Consumer, router *message.Router, provider *pubsub.Provider) error {
		if err := c.RegisterHandlers(router, provider); err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() { done <- router.Run(runCtx) }()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				select {
				case err := <-done:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
		return nil
	}),
)
