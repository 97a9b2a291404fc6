// Package ws is the gateway's primary WebSocket surface. It upgrades /ws,
// trusts the identity asserted by the upstream HTTP gateway, and runs the
// two pumps that move frames for one connection.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/domain/registry"
	"github.com/pulsesocial/pulse/internal/metrics"
)

type Gateway struct {
	logger  *slog.Logger
	manager *registry.ConnectionManager
	metrics *metrics.Metrics
	cfg     config.WSConfig

	upgrader  websocket.Upgrader
	accepting atomic.Bool
}

func NewGateway(logger *slog.Logger, manager *registry.ConnectionManager, m *metrics.Metrics, cfg config.WSConfig) *Gateway {
	g := &Gateway{
		logger:  logger,
		manager: manager,
		metrics: m,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced upstream
		},
	}
	g.accepting.Store(true)
	return g
}

// StopAccepting rejects further upgrades; existing connections keep running
// until the drain.
func (g *Gateway) StopAccepting() {
	g.accepting.Store(false)
}

// Identity extracts the trusted user id: X-User-Id header first, user_id
// query parameter as the browser-compatible fallback.
func Identity(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.accepting.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	userID, ok := Identity(r)
	if !ok {
		http.Error(w, "missing or invalid user id", http.StatusBadRequest)
		return
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("WS_UPGRADE_FAILED", "err", err, "user_id", userID)
		return
	}

	// The connection's lifetime is bound to the gateway process, not to
	// this request: the upgrade handler returns while the pumps keep going.
	conn := registry.NewConn(context.WithoutCancel(r.Context()), userID, sock, g.cfg.SendQueueCapacity)

	g.manager.Add(conn)
	g.metrics.Connections.Inc()
	g.logger.Info("WS_OPENED", "user_id", userID, "conn_id", conn.ID())

	go g.writePump(conn)
	go g.readPump(conn)
}
