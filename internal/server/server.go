// Package server assembles the HTTP surfaces: the application router on the
// main port and the Prometheus endpoint on its own port.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/handler/chat"
	"github.com/pulsesocial/pulse/internal/handler/rest"
	"github.com/pulsesocial/pulse/internal/handler/rtmp"
	"github.com/pulsesocial/pulse/internal/handler/ws"
	"github.com/pulsesocial/pulse/internal/metrics"
)

// NewRouter wires every HTTP endpoint of the gateway.
func NewRouter(gateway *ws.Gateway, chatHub *chat.Hub, rtmpHandler *rtmp.Handler, restHandler *rest.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(logger))

	r.Get("/ws", gateway.ServeHTTP)
	r.Get("/ws/live/{streamID}", chatHub.ServeHTTP)
	r.Post("/rtmp/callback", rtmpHandler.ServeHTTP)
	restHandler.Mount(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// NewHTTPServer builds the main application server.
func NewHTTPServer(cfg *config.Config, router chi.Router) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewMetricsServer exposes /metrics on its own listener so scrapes never
// contend with WebSocket traffic.
func NewMetricsServer(cfg *config.Config, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// recoverer converts handler panics into 500s. WebSocket upgrades hijack the
// connection, so a panic after upgrade has nothing to write to; it is logged
// and the socket is torn down by the runtime.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("PANIC_RECOVERED", "panic", rec, "path", r.URL.Path)
					if r.Header.Get("Upgrade") == "" {
						w.WriteHeader(http.StatusInternalServerError)
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
