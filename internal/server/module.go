package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/domain/registry"
	"github.com/pulsesocial/pulse/internal/handler/rest"
	"github.com/pulsesocial/pulse/internal/handler/rtmp"
	"github.com/pulsesocial/pulse/internal/handler/ws"
	"github.com/pulsesocial/pulse/internal/metrics"
)

var Module = fx.Module("server",
	fx.Provide(
		func(logger *slog.Logger, manager *registry.ConnectionManager, m *metrics.Metrics, cfg *config.Config) *ws.Gateway {
			return ws.NewGateway(logger, manager, m, cfg.WS)
		},
		rtmp.NewHandler,
		rest.NewHandler,
		NewRouter,
	),

	fx.Invoke(func(
		lc fx.Lifecycle,
		cfg *config.Config,
		router chi.Router,
		gateway *ws.Gateway,
		manager *registry.ConnectionManager,
		m *metrics.Metrics,
		logger *slog.Logger,
	) {
		srv := NewHTTPServer(cfg, router)
		metricsSrv := NewMetricsServer(cfg, m)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go serve(srv, "http", logger)
				go serve(metricsSrv, "metrics", logger)
				logger.Info("HTTP_SERVER_STARTED", "addr", cfg.HTTPAddr, "metrics_port", cfg.MetricsPort)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				// Drain order: refuse new upgrades, stop the listener,
				// then walk down the live connections within the budget.
				gateway.StopAccepting()
				_ = srv.Shutdown(ctx)
				_ = metricsSrv.Shutdown(ctx)

				drainCtx, cancel := context.WithTimeout(ctx, cfg.WS.ShutdownBudget)
				defer cancel()
				return manager.Shutdown(drainCtx)
			},
		})
	}),
)

func serve(srv *http.Server, name string, logger *slog.Logger) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP_SERVER_FAILED", "server", name, "err", err)
	}
}
