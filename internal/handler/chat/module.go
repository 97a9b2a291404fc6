package chat

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/metrics"
)

var Module = fx.Module("chat",
	fx.Provide(func(logger *slog.Logger, m *metrics.Metrics, cfg *config.Config) *Hub {
		return NewHub(logger, m, cfg.Chat, cfg.WS)
	}),
)
