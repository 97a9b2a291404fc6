package cmd

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/domain/registry"
	amqphandler "github.com/pulsesocial/pulse/internal/handler/amqp"
	"github.com/pulsesocial/pulse/internal/handler/chat"
	"github.com/pulsesocial/pulse/internal/monitor"
	"github.com/pulsesocial/pulse/internal/outbox"
	"github.com/pulsesocial/pulse/internal/realtime"
	"github.com/pulsesocial/pulse/internal/server"
	"github.com/pulsesocial/pulse/internal/service"
)

// NewApp assembles the whole gateway process. Stop order is the reverse of
// start order, which yields the drain sequence the gateway needs: HTTP
// surfaces and consumers come down first, stores and brokers last.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),

		fx.Provide(
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideMetrics,
			ProvideRedisClient,
			ProvidePgxPool,
			ProvidePubsubProvider,
			ProvideEventDispatcher,
		),
		storesModule,

		registry.Module,
		service.Module,
		realtime.Module,
		amqphandler.Module,
		chat.Module,
		monitor.Module,
		outbox.Module,
		server.Module,
	)
}
