package service

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/metrics"
)

var Module = fx.Module("service",
	fx.Provide(
		func(repo NotificationRepo, realtime RealtimePublisher, logger *slog.Logger, m *metrics.Metrics, cfg *config.Config) *Notifier {
			return NewNotifier(repo, realtime, logger, m, cfg.AggregateWindow)
		},
		NewFollowerSource,
		NewStreamSessions,
	),
)
