package registry

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(logger *slog.Logger) *ConnectionManager {
			return NewConnectionManager(logger)
		},
	),
)
