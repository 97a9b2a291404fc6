package monitor

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
)

var Module = fx.Module("monitor",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *OracleClient {
			return NewOracleClient(cfg.OracleURL, cfg.OracleAppName, logger)
		},
		NewManager,
	),

	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return m.Shutdown(ctx)
			},
		})
	}),
)
